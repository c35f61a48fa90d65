package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrBackendRequired = errors.New("credential backend is required")

// Backend is a flat string key/value store.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

type Store struct {
	backend Backend
}

func New(backend Backend) (*Store, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	return &Store{backend: backend}, nil
}

func (s *Store) Save(ctx context.Context, token string, p Profile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := s.backend.Set(ctx, KeyToken, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := s.backend.Set(ctx, KeyUser, string(b)); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// SaveToken writes the token entry alone. An empty token removes it.
func (s *Store) SaveToken(ctx context.Context, token string) error {
	if token == "" {
		if err := s.backend.Delete(ctx, KeyToken); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		return nil
	}
	if err := s.backend.Set(ctx, KeyToken, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Load reads both entries. A profile that does not decode is reported via
// Record.ProfileCorrupt, never as an error.
func (s *Store) Load(ctx context.Context) (Record, error) {
	var rec Record

	token, ok, err := s.backend.Get(ctx, KeyToken)
	if err != nil {
		return Record{}, fmt.Errorf("load token: %w", err)
	}
	if ok && token != "" {
		rec.Token = token
		rec.HasToken = true
	}

	raw, ok, err := s.backend.Get(ctx, KeyUser)
	if err != nil {
		return Record{}, fmt.Errorf("load profile: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return rec, nil
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Username == "" {
		rec.ProfileCorrupt = true
		return rec, nil
	}
	rec.Profile = p
	rec.HasProfile = true
	return rec, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, KeyToken, KeyUser); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
