// Package session holds the client's single view of who is logged in.
//
// A Manager starts empty. Login and Restore populate it; Logout and a 401
// seen by the gateway clear it. The user profile is only ever set together
// with a token.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dashmonitor/dashctl/internal/api"
	"dashmonitor/dashctl/internal/audit"
	"dashmonitor/dashctl/internal/credstore"
	"dashmonitor/dashctl/internal/observability"
)

const storeTimeout = 5 * time.Second

type Options struct {
	Logger *slog.Logger
	Audit  audit.Recorder
}

type Manager struct {
	store *credstore.Store
	auth  Authenticator
	log   *slog.Logger
	audit audit.Recorder

	mu    sync.RWMutex
	token string
	user  *UserProfile
}

func NewManager(store *credstore.Store, auth Authenticator, opts Options) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	return &Manager{
		store: store,
		auth:  auth,
		log:   logger,
		audit: opts.Audit,
	}, nil
}

func (m *Manager) HasToken() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != ""
}

func (m *Manager) IsLoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != "" && m.user != nil
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.token != "" && m.user != nil:
		return Authenticated
	case m.token != "":
		return TokenOnly
	default:
		return Anonymous
	}
}

func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *Manager) User() (UserProfile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return UserProfile{}, false
	}
	return *m.user, true
}

// ValidateToken reports whether a token and a profile are both held in
// memory. It does not contact the server and does not look at expiry.
func (m *Manager) ValidateToken() bool {
	return m.IsLoggedIn()
}

func (m *Manager) Login(ctx context.Context, creds Credentials) Result {
	resp, err := m.auth.Login(ctx, creds)
	if err != nil {
		msg := strings.TrimSpace(err.Error())
		if msg == "" {
			msg = defaultLoginFailure
		}
		m.log.Warn("login request failed", "username", creds.Username, "error", err)
		m.recordLogin(creds.Username, audit.OutcomeFailed, msg)
		return Result{Success: false, Message: msg}
	}

	if resp.Code != api.SuccessCode {
		msg := strings.TrimSpace(resp.Msg)
		if msg == "" {
			msg = defaultLoginFailure
		}
		m.log.Info("login rejected", "username", creds.Username, "code", resp.Code)
		m.recordLogin(creds.Username, audit.OutcomeFailed, fmt.Sprintf("code=%d %s", resp.Code, msg))
		return Result{Success: false, Message: msg}
	}

	data := resp.Data
	if data.Token == "" {
		m.recordLogin(creds.Username, audit.OutcomeFailed, "response without token")
		return Result{Success: false, Message: "login response missing token"}
	}
	profile := UserProfile{
		ID:       data.ID,
		Username: data.Username,
		Email:    data.Email,
		Role:     data.Role,
	}

	// Persist first; memory is assigned only once both entries are stored.
	if err := m.store.Save(ctx, data.Token, profile); err != nil {
		m.log.Error("persist credentials failed", "username", profile.Username, "error", err)
		m.recordLogin(profile.Username, audit.OutcomeFailed, err.Error())
		// Save may have written the token alone.
		m.Logout()
		return Result{Success: false, Message: err.Error()}
	}

	m.mu.Lock()
	m.token = data.Token
	m.user = &profile
	m.mu.Unlock()

	m.log.Info("logged in", "username", profile.Username, "role", profile.Role)
	m.recordLogin(profile.Username, audit.OutcomeSuccess, "")
	return Result{Success: true, Message: resp.Msg}
}

// Logout clears memory and the credential store. Calling it again is a no-op
// apart from re-clearing the store.
func (m *Manager) Logout() {
	m.mu.Lock()
	hadSession := m.token != "" || m.user != nil
	actor := ""
	if m.user != nil {
		actor = m.user.Username
	}
	m.token = ""
	m.user = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.Clear(ctx); err != nil {
		m.log.Error("clear credentials failed", "error", err)
	}

	if hadSession {
		m.log.Info("logged out", "username", actor)
		audit.Safe(m.audit, audit.Event{Actor: actor, Action: "auth.logout", Outcome: audit.OutcomeSuccess})
	}
}

// Restore rehydrates memory from the credential store. Only a complete record
// (token plus a parseable profile) yields a logged-in session; any partial or
// corrupt record is cleared entirely. Backend failures leave memory as is.
func (m *Manager) Restore(ctx context.Context) {
	rec, err := m.store.Load(ctx)
	if err != nil {
		m.log.Warn("restore credentials failed", "error", err)
		return
	}

	switch {
	case rec.Complete():
		profile := rec.Profile
		m.mu.Lock()
		m.token = rec.Token
		m.user = &profile
		m.mu.Unlock()
	case rec.Empty():
		m.mu.Lock()
		m.token = ""
		m.user = nil
		m.mu.Unlock()
	default:
		reason := restoreClearReason(rec)
		m.log.Warn("discarding inconsistent stored credentials", "reason", reason)
		audit.Safe(m.audit, audit.Event{Action: "auth.restore", Outcome: audit.OutcomeFailed, Detail: reason})
		m.Logout()
	}
}

func restoreClearReason(rec credstore.Record) string {
	switch {
	case rec.ProfileCorrupt:
		return "stored profile does not parse"
	case rec.HasToken:
		return "token without profile"
	default:
		return "profile without token"
	}
}

// SetToken overwrites the token in memory and in the store. An empty token
// also drops the profile, since a profile never outlives its token.
func (m *Manager) SetToken(token string) {
	token = strings.TrimSpace(token)
	m.mu.Lock()
	m.token = token
	if token == "" {
		m.user = nil
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.SaveToken(ctx, token); err != nil {
		m.log.Error("persist token failed", "error", err)
	}
}

// TokenInfo decodes the claims of the current token for display.
func (m *Manager) TokenInfo() (TokenInfo, error) {
	token := m.Token()
	if token == "" {
		return TokenInfo{}, errors.New("no token")
	}
	return InspectToken(token)
}

func (m *Manager) recordLogin(actor, outcome, detail string) {
	audit.Safe(m.audit, audit.Event{Actor: actor, Action: "auth.login", Outcome: outcome, Detail: detail})
}
