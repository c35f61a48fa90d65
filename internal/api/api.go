// Package api wraps the dashboard endpoints. Every call goes through the
// gateway, so token attachment and 401 handling are inherited.
package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"dashmonitor/dashctl/internal/gateway"
)

// Caller is satisfied by *gateway.Client.
type Caller interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, out any) error
}

// EnvelopeError is returned by domain calls whose envelope code is not
// SuccessCode. Login handles non-success codes itself and never returns it.
type EnvelopeError struct {
	Code int
	Msg  string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Msg)
}

func unwrap[T any](env gateway.Envelope[T], err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	if env.Code != SuccessCode {
		var zero T
		return zero, &EnvelopeError{Code: env.Code, Msg: env.Msg}
	}
	return env.Data, nil
}

type AuthAPI struct{ c Caller }

func NewAuthAPI(c Caller) *AuthAPI { return &AuthAPI{c: c} }

// Login returns the raw envelope; the caller interprets the code.
func (a *AuthAPI) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	var resp LoginResponse
	if err := a.c.Post(ctx, "/auth/login", req, &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

type MonitorAPI struct{ c Caller }

func NewMonitorAPI(c Caller) *MonitorAPI { return &MonitorAPI{c: c} }

func (m *MonitorAPI) Data(ctx context.Context, q MonitorQuery) ([]MonitorRecord, error) {
	var env gateway.Envelope[[]MonitorRecord]
	err := m.c.Get(ctx, "/monitor/data", q.values(), &env)
	return unwrap(env, err)
}

func (m *MonitorAPI) Stats(ctx context.Context, q MonitorQuery) ([]ServerStats, error) {
	var env gateway.Envelope[[]ServerStats]
	err := m.c.Get(ctx, "/monitor/stats", q.values(), &env)
	return unwrap(env, err)
}

func (m *MonitorAPI) Add(ctx context.Context, s MetricSubmission) error {
	var env gateway.Envelope[any]
	err := m.c.Post(ctx, "/monitor/data", s, &env)
	_, err = unwrap(env, err)
	return err
}

func (q MonitorQuery) values() url.Values {
	v := url.Values{}
	if q.ServerID > 0 {
		v.Set("server_id", strconv.FormatInt(q.ServerID, 10))
	}
	if q.MetricType != "" {
		v.Set("metric_type", q.MetricType)
	}
	if q.Hours > 0 {
		v.Set("hours", strconv.Itoa(q.Hours))
	}
	return v
}

type UserAPI struct{ c Caller }

func NewUserAPI(c Caller) *UserAPI { return &UserAPI{c: c} }

func (u *UserAPI) List(ctx context.Context) ([]User, error) {
	var env gateway.Envelope[[]User]
	err := u.c.Get(ctx, "/users", nil, &env)
	return unwrap(env, err)
}

func (u *UserAPI) Get(ctx context.Context, id int64) (User, error) {
	var env gateway.Envelope[User]
	err := u.c.Get(ctx, "/users/"+strconv.FormatInt(id, 10), nil, &env)
	return unwrap(env, err)
}

func (u *UserAPI) Create(ctx context.Context, in UserInput) (User, error) {
	var env gateway.Envelope[User]
	err := u.c.Post(ctx, "/users", in, &env)
	return unwrap(env, err)
}

func (u *UserAPI) Update(ctx context.Context, id int64, in UserInput) (User, error) {
	var env gateway.Envelope[User]
	err := u.c.Put(ctx, "/users/"+strconv.FormatInt(id, 10), in, &env)
	return unwrap(env, err)
}

func (u *UserAPI) Delete(ctx context.Context, id int64) error {
	var env gateway.Envelope[any]
	err := u.c.Delete(ctx, "/users/"+strconv.FormatInt(id, 10), &env)
	_, err = unwrap(env, err)
	return err
}

func (u *UserAPI) Profile(ctx context.Context) (User, error) {
	var env gateway.Envelope[User]
	err := u.c.Get(ctx, "/profile", nil, &env)
	return unwrap(env, err)
}

func (u *UserAPI) ResetPassword(ctx context.Context, username, password string) error {
	var env gateway.Envelope[any]
	body := UserInput{Username: username, Password: password}
	err := u.c.Put(ctx, "/users/reset-password", body, &env)
	_, err = unwrap(env, err)
	return err
}

type ServerAPI struct{ c Caller }

func NewServerAPI(c Caller) *ServerAPI { return &ServerAPI{c: c} }

func (s *ServerAPI) List(ctx context.Context) ([]Server, error) {
	var env gateway.Envelope[[]Server]
	err := s.c.Get(ctx, "/servers", nil, &env)
	return unwrap(env, err)
}

func (s *ServerAPI) Get(ctx context.Context, id int64) (Server, error) {
	var env gateway.Envelope[Server]
	err := s.c.Get(ctx, "/servers/"+strconv.FormatInt(id, 10), nil, &env)
	return unwrap(env, err)
}

func (s *ServerAPI) Create(ctx context.Context, in ServerInput) (Server, error) {
	var env gateway.Envelope[Server]
	err := s.c.Post(ctx, "/servers", in, &env)
	return unwrap(env, err)
}

func (s *ServerAPI) Update(ctx context.Context, id int64, in ServerInput) (Server, error) {
	var env gateway.Envelope[Server]
	err := s.c.Put(ctx, "/servers/"+strconv.FormatInt(id, 10), in, &env)
	return unwrap(env, err)
}

func (s *ServerAPI) Delete(ctx context.Context, id int64) error {
	var env gateway.Envelope[any]
	err := s.c.Delete(ctx, "/servers/"+strconv.FormatInt(id, 10), &env)
	_, err = unwrap(env, err)
	return err
}

func (s *ServerAPI) UserServers(ctx context.Context, userID int64) ([]Server, error) {
	var env gateway.Envelope[[]Server]
	q := url.Values{"user_id": {strconv.FormatInt(userID, 10)}}
	err := s.c.Get(ctx, "/user-servers", q, &env)
	return unwrap(env, err)
}

func (s *ServerAPI) AddUser(ctx context.Context, serverID, userID int64) error {
	var env gateway.Envelope[any]
	path := "/servers/" + strconv.FormatInt(serverID, 10) + "/users"
	err := s.c.Post(ctx, path, map[string]int64{"user_id": userID}, &env)
	_, err = unwrap(env, err)
	return err
}

func (s *ServerAPI) RemoveUser(ctx context.Context, serverID, userID int64) error {
	var env gateway.Envelope[any]
	path := "/servers/" + strconv.FormatInt(serverID, 10) + "/users/" + strconv.FormatInt(userID, 10)
	err := s.c.Delete(ctx, path, &env)
	_, err = unwrap(env, err)
	return err
}
