package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend keeps entries in a single JSON object file, rewritten on every
// change. It is the default backend; credentials survive restarts of the CLI.
type FileBackend struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

func NewFileBackend(path string) (*FileBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("credential state file path is required")
	}

	b := &FileBackend{
		path:   path,
		values: make(map[string]string),
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *FileBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *FileBackend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
	return b.persistLocked()
}

func (b *FileBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	changed := false
	for _, k := range keys {
		if _, ok := b.values[k]; ok {
			delete(b.values, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return b.persistLocked()
}

func (b *FileBackend) load() error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read credential state file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	// A damaged file starts out empty and is replaced on the next write.
	var decoded map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil
	}
	for k, v := range decoded {
		b.values[k] = v
	}
	return nil
}

func (b *FileBackend) persistLocked() error {
	data, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential state file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("mkdir credential state dir: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0o600); err != nil {
		return fmt.Errorf("write credential state file: %w", err)
	}
	return nil
}
