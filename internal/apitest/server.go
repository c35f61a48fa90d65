// Package apitest runs an in-process dashboard API for tests. It speaks the
// same {code,msg,data} envelope as the real API, issues HS256 bearer tokens
// and answers 401 for missing, bad or expired tokens.
package apitest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"dashmonitor/dashctl/internal/api"
)

type account struct {
	user api.User
	hash []byte
}

type Server struct {
	srv    *httptest.Server
	secret []byte

	mu        sync.Mutex
	accounts  map[string]account
	servers   []api.Server
	records   []api.MonitorRecord
	tokenTTL  time.Duration
	adminOnly bool
	revoked   bool
	hits      map[string]int
}

func New(tb testing.TB) *Server {
	tb.Helper()
	s := &Server{
		secret:   []byte("apitest-secret"),
		accounts: make(map[string]account),
		tokenTTL: time.Hour,
		hits:     make(map[string]int),
	}
	s.srv = httptest.NewServer(s.routes())
	tb.Cleanup(s.srv.Close)
	return s
}

// BaseURL is the API root clients should be configured with.
func (s *Server) BaseURL() string { return s.srv.URL + "/api" }

func (s *Server) AddUser(tb testing.TB, u api.User, password string) {
	tb.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		tb.Fatalf("hash password: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[u.Username] = account{user: u, hash: hash}
}

func (s *Server) AddServer(srv api.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers = append(s.servers, srv)
}

func (s *Server) AddRecord(r api.MonitorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

// AdminOnly makes login reject non-admin accounts with code 403, as the
// production deployment does.
func (s *Server) AdminOnly(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminOnly = on
}

// RevokeTokens makes every previously issued token fail with 401.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = true
}

func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Get("/monitor/data", s.handleMonitorData)
			r.Post("/monitor/data", s.handleMonitorAdd)
			r.Get("/monitor/stats", s.handleMonitorStats)
			r.Get("/servers", s.handleServers)
			r.Get("/profile", s.handleProfile)
			r.With(s.requireAdmin).Get("/users", s.handleUsers)
		})
	})
	return r
}

func (s *Server) count(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[r.Method+" "+strings.TrimPrefix(r.URL.Path, "/api")]++
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeEnvelope(w, 400, "username and password are required", nil)
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[req.Username]
	adminOnly := s.adminOnly
	s.mu.Unlock()
	if !ok {
		writeEnvelope(w, 401, "user does not exist", nil)
		return
	}
	if bcrypt.CompareHashAndPassword(acc.hash, []byte(req.Password)) != nil {
		writeEnvelope(w, 401, "bad password", nil)
		return
	}
	if adminOnly && acc.user.Role != "admin" {
		writeEnvelope(w, 403, "only administrators may log in", nil)
		return
	}

	token, err := s.issue(acc.user.ID)
	if err != nil {
		writeEnvelope(w, 500, "login failed", nil)
		return
	}
	writeEnvelope(w, 0, "login ok", api.LoginData{
		Token:    token,
		ID:       acc.user.ID,
		Username: acc.user.Username,
		Email:    acc.user.Email,
		Role:     acc.user.Role,
	})
}

func (s *Server) issue(userID int64) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}).SignedString(s.secret)
}

type subjectKey struct{}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.count(r)
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeUnauthorized(w, "Missing Authorization Header")
			return
		}
		s.mu.Lock()
		revoked := s.revoked
		s.mu.Unlock()
		if revoked {
			writeUnauthorized(w, "Token has been revoked")
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeUnauthorized(w, "Token has expired")
				return
			}
			writeUnauthorized(w, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), claims.Subject)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, ok := s.userBySubject(subjectFrom(r.Context())); !ok || u.Role != "admin" {
			writeEnvelope(w, 403, "admin required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) userBySubject(sub string) (api.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if strconv.FormatInt(acc.user.ID, 10) == sub {
			return acc.user, true
		}
	}
	return api.User{}, false
}

func (s *Server) handleMonitorData(w http.ResponseWriter, r *http.Request) {
	serverID, _ := strconv.ParseInt(r.URL.Query().Get("server_id"), 10, 64)
	s.mu.Lock()
	out := make([]api.MonitorRecord, 0, len(s.records))
	for _, rec := range s.records {
		if serverID == 0 || rec.ServerID == serverID {
			out = append(out, rec)
		}
	}
	s.mu.Unlock()
	writeEnvelope(w, 0, "ok", out)
}

func (s *Server) handleMonitorAdd(w http.ResponseWriter, r *http.Request) {
	var sub api.MetricSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeEnvelope(w, 400, "invalid body", nil)
		return
	}
	s.mu.Lock()
	rec := api.MonitorRecord{
		ID:          int64(len(s.records) + 1),
		ServerID:    sub.ServerID,
		IPAddress:   sub.IPAddress,
		CPUValue:    sub.Metrics.CPU,
		MemoryValue: sub.Metrics.Memory,
		DiskValue:   sub.Metrics.Disk,
		RecordedAt:  time.Now().UTC().Format("2006-01-02 15:04:05"),
	}
	s.records = append(s.records, rec)
	s.mu.Unlock()
	writeEnvelope(w, 0, "submitted", nil)
}

func (s *Server) handleMonitorStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	stats := make([]api.ServerStats, 0, len(s.servers))
	for _, srv := range s.servers {
		st := api.ServerStats{ServerID: srv.ID, ServerName: srv.ServerName, IPAddress: srv.IPAddress, Metrics: map[string]api.MetricStat{}}
		for i := len(s.records) - 1; i >= 0; i-- {
			rec := s.records[i]
			if rec.ServerID != srv.ID {
				continue
			}
			st.Metrics["cpu"] = api.MetricStat{Value: toFloat(rec.CPUValue), ThresholdWarning: 70, ThresholdCritical: 85, ThresholdEmergency: 95, RecordedAt: rec.RecordedAt}
			st.Metrics["memory"] = api.MetricStat{Value: toFloat(rec.MemoryValue), ThresholdWarning: 75, ThresholdCritical: 90, ThresholdEmergency: 95, RecordedAt: rec.RecordedAt}
			st.Metrics["disk"] = api.MetricStat{Value: toFloat(rec.DiskValue), ThresholdWarning: 80, ThresholdCritical: 90, ThresholdEmergency: 95, RecordedAt: rec.RecordedAt}
			break
		}
		stats = append(stats, st)
	}
	s.mu.Unlock()
	writeEnvelope(w, 0, "ok", stats)
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]api.Server{}, s.servers...)
	s.mu.Unlock()
	writeEnvelope(w, 0, "ok", out)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userBySubject(subjectFrom(r.Context()))
	if !ok {
		writeEnvelope(w, 404, "user not found", nil)
		return
	}
	writeEnvelope(w, 0, "ok", u)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]api.User, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc.user)
	}
	s.mu.Unlock()
	writeEnvelope(w, 0, "ok", out)
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg, "data": data})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"msg": msg})
}

func toFloat(v any) float64 {
	f, _ := strconv.ParseFloat(fmt.Sprint(v), 64)
	return f
}
