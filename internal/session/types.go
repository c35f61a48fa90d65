package session

import (
	"context"

	"dashmonitor/dashctl/internal/api"
	"dashmonitor/dashctl/internal/credstore"
)

// RoleAdmin is the role that unlocks admin-only routes.
const RoleAdmin = "admin"

const defaultLoginFailure = "login failed"

// UserProfile is owned by the Manager; others get copies.
type UserProfile = credstore.Profile

type Credentials = api.LoginRequest

// Authenticator calls the auth endpoint. *api.AuthAPI satisfies it.
type Authenticator interface {
	Login(ctx context.Context, req api.LoginRequest) (api.LoginResponse, error)
}

// Result is the outcome of Login. Failures are values, never errors.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type State int

const (
	Anonymous State = iota
	TokenOnly
	Authenticated
)

func (s State) String() string {
	switch s {
	case TokenOnly:
		return "token-only"
	case Authenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}
