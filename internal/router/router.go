// Package router resolves navigations against the route table and runs the
// session guard before a route becomes current.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"dashmonitor/dashctl/internal/audit"
	"dashmonitor/dashctl/internal/observability"
	"dashmonitor/dashctl/internal/session"
)

var (
	ErrRouteNotFound = errors.New("route not found")
	ErrRedirectLoop  = errors.New("too many redirects")
)

const maxRedirects = 4

// Session is what the guard consults. *session.Manager satisfies it.
type Session interface {
	Restore(ctx context.Context)
	IsLoggedIn() bool
	ValidateToken() bool
	User() (session.UserProfile, bool)
}

// Decision is the guard's verdict for one transition.
type Decision struct {
	Allow    bool
	Redirect string
}

func allow() Decision               { return Decision{Allow: true} }
func redirect(path string) Decision { return Decision{Redirect: path} }

type Options struct {
	Logger *slog.Logger
	Audit  audit.Recorder
}

type Router struct {
	routes []Route
	byPath map[string]int
	sess   Session
	log    *slog.Logger
	audit  audit.Recorder

	mu      sync.Mutex
	current *Route
}

func New(routes []Route, sess Session, opts Options) (*Router, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}
	routes = append([]Route(nil), routes...)
	byPath := make(map[string]int, len(routes))
	for i, r := range routes {
		p := normalizePath(r.Path)
		if _, dup := byPath[p]; dup {
			return nil, fmt.Errorf("duplicate route path %q", p)
		}
		routes[i].Path = p
		byPath[p] = i
	}
	for _, target := range []string{LoginPath, HomePath} {
		if _, ok := byPath[target]; !ok {
			return nil, fmt.Errorf("route table must contain %s", target)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	return &Router{
		routes: routes,
		byPath: byPath,
		sess:   sess,
		log:    logger,
		audit:  opts.Audit,
	}, nil
}

func (r *Router) Resolve(path string) (Route, bool) {
	i, ok := r.byPath[normalizePath(path)]
	if !ok {
		return Route{}, false
	}
	return r.routes[i], true
}

// Guard decides one transition:
//  1. rehydrate the session from the store;
//  2. public routes pass, except /login for a logged-in user, who goes home;
//  3. protected routes send anonymous users to /login;
//  4. logged-in users pass the local token check, then the admin check,
//     where a non-admin is sent home without being logged out.
func (r *Router) Guard(ctx context.Context, to Route) Decision {
	r.sess.Restore(ctx)

	if !to.Meta.RequiresAuth {
		if to.Name == LoginRoute && r.sess.IsLoggedIn() {
			return redirect(HomePath)
		}
		return allow()
	}

	if !r.sess.IsLoggedIn() {
		return redirect(LoginPath)
	}
	if !r.sess.ValidateToken() {
		return redirect(LoginPath)
	}
	if to.Meta.RequiresAdmin {
		if u, _ := r.sess.User(); u.Role != session.RoleAdmin {
			return redirect(HomePath)
		}
	}
	return allow()
}

// Navigate resolves path, follows static and guard redirects, and commits the
// final route as current. Nothing is committed when an error is returned.
func (r *Router) Navigate(ctx context.Context, path string) (Route, error) {
	requested := normalizePath(path)
	target := requested
	for hop := 0; hop <= maxRedirects; hop++ {
		to, ok := r.Resolve(target)
		if !ok {
			return Route{}, fmt.Errorf("%w: %s", ErrRouteNotFound, target)
		}
		if to.Redirect != "" {
			target = normalizePath(to.Redirect)
			continue
		}

		d := r.Guard(ctx, to)
		if d.Allow {
			r.commit(to)
			r.log.Debug("navigation allowed", "requested", requested, "route", to.Path)
			return to, nil
		}
		r.recordDenial(to, d)
		target = d.Redirect
	}
	return Route{}, fmt.Errorf("%w: %s", ErrRedirectLoop, requested)
}

// Redirect is the out-of-band navigation used by the gateway after a 401.
func (r *Router) Redirect(path string) {
	if _, err := r.Navigate(context.Background(), path); err != nil {
		r.log.Error("redirect failed", "path", path, "error", err)
	}
}

func (r *Router) Current() (Route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Route{}, false
	}
	return *r.current, true
}

func (r *Router) commit(to Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = &to
}

func (r *Router) recordDenial(to Route, d Decision) {
	// A logged-in user bounced off /login is routine, not a denial.
	if to.Name == LoginRoute {
		return
	}
	actor := ""
	if u, ok := r.sess.User(); ok {
		actor = u.Username
	}
	r.log.Info("navigation redirected", "route", to.Path, "redirect", d.Redirect, "username", actor)
	audit.Safe(r.audit, audit.Event{
		Actor:   actor,
		Action:  "route.deny",
		Target:  to.Path,
		Outcome: audit.OutcomeDenied,
		Detail:  "redirect=" + d.Redirect,
	})
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}
