package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dashmonitor/dashctl/internal/api"
	"dashmonitor/dashctl/internal/apitest"
	"dashmonitor/dashctl/internal/config"
	"dashmonitor/dashctl/internal/observability"
	"dashmonitor/dashctl/internal/router"
	"dashmonitor/dashctl/internal/session"
)

type harness struct {
	api *apitest.Server
	cfg config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := apitest.New(t)
	srv.AddUser(t, api.User{ID: 1, Username: "admin", Email: "admin@example.com", Role: "admin"}, "admin-pass")
	srv.AddUser(t, api.User{ID: 2, Username: "alice", Email: "alice@example.com", Role: "user"}, "alice-pass")
	srv.AddServer(api.Server{ID: 7, ServerName: "web-1", IPAddress: "10.0.0.7"})

	dir := t.TempDir()
	return &harness{
		api: srv,
		cfg: config.Config{
			API: config.APIConfig{BaseURL: srv.BaseURL(), Timeout: 5 * time.Second},
			Credentials: config.CredentialConfig{
				Backend:   config.BackendFile,
				StateFile: filepath.Join(dir, "credentials.json"),
			},
			AuditLogFile: filepath.Join(dir, "audit.log"),
			LogLevel:     "error",
		},
	}
}

func (h *harness) app(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a, err := New(h.cfg, Options{Out: &out, Logger: observability.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a, &out
}

func (h *harness) run(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	a, out := h.app(t)
	err := a.Run(context.Background(), args)
	got := map[string]any{}
	if err == nil && strings.HasPrefix(strings.TrimSpace(out.String()), "{") {
		if decErr := json.Unmarshal(out.Bytes(), &got); decErr != nil {
			t.Fatalf("decode output %q: %v", out.String(), decErr)
		}
	}
	return got, err
}

func (h *harness) auditActions(t *testing.T) []string {
	t.Helper()
	raw, err := os.ReadFile(h.cfg.AuditLogFile)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	var actions []string
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var e struct {
			Action  string `json:"action"`
			Outcome string `json:"outcome"`
		}
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("decode audit line %q: %v", line, err)
		}
		actions = append(actions, e.Action+":"+e.Outcome)
	}
	return actions
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func TestLoginPersistsAcrossRuns(t *testing.T) {
	h := newHarness(t)

	got, err := h.run(t, "login", "-u", "admin", "-p", "admin-pass")
	if err != nil {
		t.Fatalf("login error = %v", err)
	}
	if got["route"] != "/home" || got["username"] != "admin" || got["role"] != "admin" {
		t.Fatalf("unexpected login output: %v", got)
	}

	status, err := h.run(t, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if status["state"] != session.Authenticated.String() || status["logged_in"] != true {
		t.Fatalf("unexpected status: %v", status)
	}
	if status["token_subject"] != "1" || status["token_expires_at"] == nil {
		t.Fatalf("expected token claims in status, got %v", status)
	}

	if !contains(h.auditActions(t), "auth.login:success") {
		t.Fatalf("expected auth.login success in audit log")
	}
}

func TestLoginRejectedKeepsSessionAnonymous(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "login", "-u", "admin", "-p", "wrong")
	if !errors.Is(err, ErrLoginFailed) || !strings.Contains(err.Error(), "bad password") {
		t.Fatalf("expected login failure with server message, got %v", err)
	}
	status, err := h.run(t, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if status["logged_in"] != false || status["state"] != session.Anonymous.String() {
		t.Fatalf("unexpected status: %v", status)
	}
}

func TestLoginAdminOnlyDeployment(t *testing.T) {
	h := newHarness(t)
	h.api.AdminOnly(true)

	_, err := h.run(t, "login", "-u", "alice", "-p", "alice-pass")
	if !errors.Is(err, ErrLoginFailed) || !strings.Contains(err.Error(), "only administrators") {
		t.Fatalf("expected admin-only rejection, got %v", err)
	}
}

func TestProtectedCommandWithoutLoginGoesToLogin(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "servers")
	if !errors.Is(err, ErrAccessDenied) || !strings.Contains(err.Error(), "/login") {
		t.Fatalf("expected redirect to /login, got %v", err)
	}
	if n := h.api.Hits("GET /servers"); n != 0 {
		t.Fatalf("expected no API call, got %d", n)
	}
}

func TestNonAdminUsersCommandGoesHome(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "login", "-u", "alice", "-p", "alice-pass"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	_, err := h.run(t, "users")
	if !errors.Is(err, ErrAccessDenied) || !strings.Contains(err.Error(), "/home") {
		t.Fatalf("expected redirect to /home, got %v", err)
	}
	if n := h.api.Hits("GET /users"); n != 0 {
		t.Fatalf("expected no API call, got %d", n)
	}

	status, err := h.run(t, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if status["logged_in"] != true {
		t.Fatalf("non-admin must stay logged in, got %v", status)
	}
	if !contains(h.auditActions(t), "route.deny:denied") {
		t.Fatalf("expected route.deny in audit log")
	}
}

func TestAdminListsUsersAndServers(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "login", "-u", "admin", "-p", "admin-pass"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	a, out := h.app(t)
	if err := a.Run(context.Background(), []string{"users"}); err != nil {
		t.Fatalf("users error = %v", err)
	}
	var users []api.User
	if err := json.Unmarshal(out.Bytes(), &users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}

	a, out = h.app(t)
	if err := a.Run(context.Background(), []string{"servers"}); err != nil {
		t.Fatalf("servers error = %v", err)
	}
	var servers []api.Server
	if err := json.Unmarshal(out.Bytes(), &servers); err != nil {
		t.Fatalf("decode servers: %v", err)
	}
	if len(servers) != 1 || servers[0].ServerName != "web-1" {
		t.Fatalf("unexpected servers: %+v", servers)
	}
}

func TestRevokedTokenForcesLogout(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "login", "-u", "admin", "-p", "admin-pass"); err != nil {
		t.Fatalf("login error = %v", err)
	}
	h.api.RevokeTokens()

	a, _ := h.app(t)
	err := a.Run(context.Background(), []string{"servers"})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
	if a.session.IsLoggedIn() || a.session.HasToken() {
		t.Fatalf("expected in-memory session cleared")
	}
	if cur, ok := a.router.Current(); !ok || cur.Path != router.LoginPath {
		t.Fatalf("expected current route /login, got %+v", cur)
	}

	status, err := h.run(t, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if status["state"] != session.Anonymous.String() {
		t.Fatalf("expected persisted credentials cleared, got %v", status)
	}
	if !contains(h.auditActions(t), "auth.forced_logout:success") {
		t.Fatalf("expected forced logout in audit log")
	}
}

func TestMonitorAndSubmit(t *testing.T) {
	h := newHarness(t)
	h.api.AddRecord(api.MonitorRecord{
		ID: 1, ServerID: 7, CPUValue: "12.5", MemoryValue: 40.0, DiskValue: 55.0,
		RecordedAt: "2024-01-01 00:00:00",
		Server:     &api.ServerSketch{ID: 7, ServerName: "web-1"},
	})
	if _, err := h.run(t, "login", "-u", "alice", "-p", "alice-pass"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	got, err := h.run(t, "monitor")
	if err != nil {
		t.Fatalf("monitor error = %v", err)
	}
	latest, _ := got["latest"].(map[string]any)
	cpu, _ := latest["cpu"].(map[string]any)
	if cpu["name"] != "web-1" || cpu["usage"] != 12.5 {
		t.Fatalf("unexpected cpu reading: %v", got)
	}

	got, err = h.run(t, "submit", "-server", "7", "-cpu", "80", "-memory", "50", "-disk", "60")
	if err != nil {
		t.Fatalf("submit error = %v", err)
	}
	if got["records"] != float64(2) {
		t.Fatalf("expected refreshed rows after submit, got %v", got)
	}

	a, out := h.app(t)
	if err := a.Run(context.Background(), []string{"stats"}); err != nil {
		t.Fatalf("stats error = %v", err)
	}
	var stats []api.ServerStats
	if err := json.Unmarshal(out.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Metrics["cpu"].Value != 80 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestOpenFollowsRedirects(t *testing.T) {
	h := newHarness(t)

	got, err := h.run(t, "open", "/")
	if err != nil {
		t.Fatalf("open error = %v", err)
	}
	if got["route"] != "/login" {
		t.Fatalf("expected / to land on /login, got %v", got)
	}

	if _, err := h.run(t, "login", "-u", "alice", "-p", "alice-pass"); err != nil {
		t.Fatalf("login error = %v", err)
	}
	got, err = h.run(t, "open", "/login")
	if err != nil {
		t.Fatalf("open error = %v", err)
	}
	if got["route"] != "/home" {
		t.Fatalf("expected logged-in /login to land on /home, got %v", got)
	}

	if _, err := h.run(t, "open", "/nowhere"); !errors.Is(err, router.ErrRouteNotFound) {
		t.Fatalf("expected ErrRouteNotFound, got %v", err)
	}
}

func TestLogoutClearsPersistedCredentials(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "login", "-u", "admin", "-p", "admin-pass"); err != nil {
		t.Fatalf("login error = %v", err)
	}
	got, err := h.run(t, "logout")
	if err != nil {
		t.Fatalf("logout error = %v", err)
	}
	if got["route"] != "/login" {
		t.Fatalf("unexpected logout output: %v", got)
	}
	status, err := h.run(t, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if status["logged_in"] != false {
		t.Fatalf("expected logged out, got %v", status)
	}
}

func TestUsageErrors(t *testing.T) {
	h := newHarness(t)
	for _, args := range [][]string{nil, {"bogus"}, {"login", "-u", "admin"}, {"open"}, {"submit"}} {
		if _, err := h.run(t, args...); !errors.Is(err, ErrUsage) {
			t.Fatalf("args %v: expected ErrUsage, got %v", args, err)
		}
	}
}

func TestNewRejectsUnreachablePostgres(t *testing.T) {
	cfg := newHarness(t).cfg
	cfg.Credentials = config.CredentialConfig{
		Backend:     config.BackendPostgres,
		DatabaseURL: "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1",
		Namespace:   "dashctl",
	}
	if _, err := New(cfg, Options{Logger: observability.Discard()}); err == nil {
		t.Fatalf("expected error for unreachable database")
	}
}
