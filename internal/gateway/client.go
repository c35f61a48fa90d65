// Package gateway is the single HTTP entry and exit point of the dashboard
// client. Every call gets the bearer token of the bound session attached, and
// every 401 forces the session out and sends the navigator to /login before
// the error reaches the caller.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dashmonitor/dashctl/internal/audit"
	"dashmonitor/dashctl/internal/config"
	"dashmonitor/dashctl/internal/observability"
)

// LoginPath is where an unauthorized response sends the navigator.
const LoginPath = "/login"

const maxBodyBytes = 8 << 20

// Session is the part of session state the gateway reads and invalidates.
type Session interface {
	Token() string
	Logout()
}

type Navigator interface {
	Redirect(path string)
}

// Envelope is the body shape of every dashboard API response.
type Envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type Options struct {
	Logger     *slog.Logger
	Audit      audit.Recorder
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
	audit   audit.Recorder

	mu        sync.RWMutex
	session   Session
	navigator Navigator
}

func New(cfg config.APIConfig, opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("api timeout must be > 0")
	}

	// The per-call deadline is fixed by configuration. The caller's client is
	// copied so its own Timeout is left alone.
	hc := &http.Client{}
	if opts.HTTPClient != nil {
		c := *opts.HTTPClient
		hc = &c
	}
	hc.Timeout = cfg.Timeout

	logger := opts.Logger
	if logger == nil {
		logger = observability.Discard()
	}

	return &Client{
		baseURL: base,
		http:    hc,
		log:     logger,
		audit:   opts.Audit,
	}, nil
}

// Bind attaches the session whose token is sent and the navigator used on 401.
// Until Bind is called the client sends unauthenticated requests.
func (c *Client) Bind(s Session, n Navigator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	c.navigator = n
}

func (c *Client) bound() (Session, Navigator) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.navigator
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, out)
}

// Do performs exactly one attempt. On success the decoded JSON body is stored
// in out; status line and headers are not exposed.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	c.prepare(req)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("api request failed", "method", method, "path", path, "request_id", req.Header.Get("X-Request-Id"), "error", err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(started).Milliseconds(),
		"request_id", req.Header.Get("X-Request-Id"),
	)
	return c.handleResponse(method, path, resp, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// prepare is the request stage.
func (c *Client) prepare(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	sess, _ := c.bound()
	if sess == nil {
		return
	}
	if token := sess.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// handleResponse is the response stage.
func (c *Client) handleResponse(method, path string, resp *http.Response, out any) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := newStatusError(method, path, resp.StatusCode, data)
		if errors.Is(statusErr, ErrUnauthorized) {
			c.onUnauthorized(method, path)
		}
		return statusErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// onUnauthorized runs for every 401, including several racing ones. Session
// logout is idempotent and a repeated redirect lands on the same route.
func (c *Client) onUnauthorized(method, path string) {
	sess, nav := c.bound()
	c.log.Warn("api rejected credentials, forcing logout", "method", method, "path", path)
	audit.Safe(c.audit, audit.Event{
		Action:  "auth.forced_logout",
		Target:  path,
		Outcome: audit.OutcomeSuccess,
		Detail:  "status=401",
	})
	if sess != nil {
		sess.Logout()
	}
	if nav != nil {
		nav.Redirect(LoginPath)
	}
}
