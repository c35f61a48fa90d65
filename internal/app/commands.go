package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"dashmonitor/dashctl/internal/api"
	"dashmonitor/dashctl/internal/gateway"
	"dashmonitor/dashctl/internal/session"
)

var (
	ErrUsage          = errors.New("usage")
	ErrLoginFailed    = errors.New("login failed")
	ErrAccessDenied   = errors.New("access denied")
	ErrSessionExpired = errors.New("session expired, log in again")
)

const usage = `usage: dashctl <command> [flags]

commands:
  login -u <username> -p <password>
  logout
  status
  open <path>
  monitor [-server id] [-metric cpu|memory|disk] [-hours n]
  submit -server id -cpu n -memory n -disk n
  stats [-server id]
  servers
  users`

// Run executes one CLI command against the configured API.
func (a *App) Run(ctx context.Context, args []string) error {
	defer a.Close()
	if len(args) == 0 {
		return fmt.Errorf("%w\n%s", ErrUsage, usage)
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "login":
		err = a.runLogin(ctx, rest)
	case "logout":
		err = a.runLogout(ctx)
	case "status":
		err = a.runStatus(ctx)
	case "open":
		err = a.runOpen(ctx, rest)
	case "monitor":
		err = a.runMonitor(ctx, rest)
	case "submit":
		err = a.runSubmit(ctx, rest)
	case "stats":
		err = a.runStats(ctx, rest)
	case "servers":
		err = a.runServers(ctx)
	case "users":
		err = a.runUsers(ctx)
	case "help", "-h", "--help":
		_, err = fmt.Fprintln(a.out, usage)
	default:
		return fmt.Errorf("%w: unknown command %q\n%s", ErrUsage, cmd, usage)
	}
	if errors.Is(err, gateway.ErrUnauthorized) {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return err
}

func (a *App) runLogin(ctx context.Context, args []string) error {
	fs := newFlagSet("login")
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if strings.TrimSpace(*username) == "" || *password == "" {
		return fmt.Errorf("%w: login needs -u and -p", ErrUsage)
	}

	// An already logged-in user is sent home by the guard; login anyway to
	// replace the stored credentials.
	if _, err := a.router.Navigate(ctx, "/login"); err != nil {
		return err
	}
	res := a.session.Login(ctx, session.Credentials{Username: *username, Password: *password})
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrLoginFailed, res.Message)
	}
	landed, err := a.router.Navigate(ctx, "/home")
	if err != nil {
		return err
	}
	u, _ := a.session.User()
	return a.printJSON(map[string]any{
		"message":  res.Message,
		"username": u.Username,
		"role":     u.Role,
		"route":    landed.Path,
	})
}

func (a *App) runLogout(ctx context.Context) error {
	a.session.Logout()
	landed, err := a.router.Navigate(ctx, "/login")
	if err != nil {
		return err
	}
	return a.printJSON(map[string]any{"message": "logged out", "route": landed.Path})
}

func (a *App) runStatus(ctx context.Context) error {
	a.session.Restore(ctx)
	status := map[string]any{
		"state":     a.session.State().String(),
		"logged_in": a.session.IsLoggedIn(),
	}
	if u, ok := a.session.User(); ok {
		status["username"] = u.Username
		status["role"] = u.Role
	}
	if info, err := a.session.TokenInfo(); err == nil {
		if info.Subject != "" {
			status["token_subject"] = info.Subject
		}
		if info.HasExpiry() {
			status["token_expires_at"] = info.ExpiresAt
		}
	}
	return a.printJSON(status)
}

func (a *App) runOpen(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: open needs exactly one path", ErrUsage)
	}
	landed, err := a.router.Navigate(ctx, args[0])
	if err != nil {
		return err
	}
	return a.printJSON(map[string]any{
		"requested": args[0],
		"route":     landed.Path,
		"name":      landed.Name,
		"component": landed.Component,
	})
}

func (a *App) runMonitor(ctx context.Context, args []string) error {
	fs := newFlagSet("monitor")
	q := monitorQueryFlags(fs)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := a.enter(ctx, "/monitor"); err != nil {
		return err
	}
	if err := a.monitor.Fetch(ctx, *q); err != nil {
		return err
	}

	latest := map[string]any{}
	if r, ok := a.monitor.LatestCPU(); ok {
		latest["cpu"] = r
	}
	if r, ok := a.monitor.LatestMemory(); ok {
		latest["memory"] = r
	}
	if r, ok := a.monitor.LatestDisk(); ok {
		latest["disk"] = r
	}
	return a.printJSON(map[string]any{
		"records": len(a.monitor.Records()),
		"latest":  latest,
	})
}

func (a *App) runSubmit(ctx context.Context, args []string) error {
	fs := newFlagSet("submit")
	serverID := fs.Int64("server", 0, "server id")
	cpu := fs.Float64("cpu", 0, "cpu usage percent")
	mem := fs.Float64("memory", 0, "memory usage percent")
	disk := fs.Float64("disk", 0, "disk usage percent")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *serverID <= 0 {
		return fmt.Errorf("%w: submit needs -server", ErrUsage)
	}
	if err := a.enter(ctx, "/monitor"); err != nil {
		return err
	}
	err := a.monitor.Add(ctx, api.MetricSubmission{
		ServerID: *serverID,
		Metrics:  api.Metrics{CPU: *cpu, Memory: *mem, Disk: *disk},
	})
	if err != nil {
		return err
	}
	return a.printJSON(map[string]any{"message": "submitted", "records": len(a.monitor.Records())})
}

func (a *App) runStats(ctx context.Context, args []string) error {
	fs := newFlagSet("stats")
	q := monitorQueryFlags(fs)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := a.enter(ctx, "/monitor"); err != nil {
		return err
	}
	stats, err := a.monitor.Stats(ctx, *q)
	if err != nil {
		return err
	}
	return a.printJSON(stats)
}

func (a *App) runServers(ctx context.Context) error {
	if err := a.enter(ctx, "/servers"); err != nil {
		return err
	}
	servers, err := a.servers.List(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(servers)
}

func (a *App) runUsers(ctx context.Context) error {
	if err := a.enter(ctx, "/users"); err != nil {
		return err
	}
	users, err := a.users.List(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(users)
}

// enter navigates to path and fails when the guard lands somewhere else.
func (a *App) enter(ctx context.Context, path string) error {
	landed, err := a.router.Navigate(ctx, path)
	if err != nil {
		return err
	}
	if landed.Path != path {
		return fmt.Errorf("%w: %s redirected to %s", ErrAccessDenied, path, landed.Path)
	}
	return nil
}

func monitorQueryFlags(fs *flag.FlagSet) *api.MonitorQuery {
	q := &api.MonitorQuery{}
	fs.Int64Var(&q.ServerID, "server", 0, "server id")
	fs.StringVar(&q.MetricType, "metric", "", "metric type")
	fs.IntVar(&q.Hours, "hours", 0, "look back this many hours")
	return q
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
