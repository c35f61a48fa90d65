package app

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"dashmonitor/dashctl/internal/api"
	"dashmonitor/dashctl/internal/audit"
	"dashmonitor/dashctl/internal/config"
	"dashmonitor/dashctl/internal/credstore"
	"dashmonitor/dashctl/internal/gateway"
	"dashmonitor/dashctl/internal/monitor"
	"dashmonitor/dashctl/internal/observability"
	"dashmonitor/dashctl/internal/router"
	"dashmonitor/dashctl/internal/session"
)

type App struct {
	cfg     config.Config
	log     *slog.Logger
	out     io.Writer
	closers []func() error

	gateway *gateway.Client
	session *session.Manager
	router  *router.Router
	users   *api.UserAPI
	servers *api.ServerAPI
	monitor *monitor.Store
}

type Options struct {
	Out    io.Writer
	Logger *slog.Logger
}

func New(cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(cfg.LogLevel)
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	a := &App{cfg: cfg, log: logger, out: out}

	backend, err := a.openBackend(cfg.Credentials)
	if err != nil {
		a.Close()
		return nil, err
	}
	store, err := credstore.New(backend)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create credential store: %w", err)
	}
	auditLogger := audit.NewLogger(cfg.AuditLogFile)

	gw, err := gateway.New(cfg.API, gateway.Options{Logger: logger, Audit: auditLogger})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	mgr, err := session.NewManager(store, api.NewAuthAPI(gw), session.Options{Logger: logger, Audit: auditLogger})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	rt, err := router.New(router.DefaultRoutes(), mgr, router.Options{Logger: logger, Audit: auditLogger})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create router: %w", err)
	}
	gw.Bind(mgr, rt)

	a.gateway = gw
	a.session = mgr
	a.router = rt
	a.users = api.NewUserAPI(gw)
	a.servers = api.NewServerAPI(gw)
	a.monitor = monitor.NewStore(api.NewMonitorAPI(gw), logger)
	return a, nil
}

func (a *App) openBackend(cfg config.CredentialConfig) (credstore.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return credstore.NewMemoryBackend(), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, client.Close)
		b, err := credstore.NewRedisBackend(client, cfg.Namespace)
		if err != nil {
			return nil, fmt.Errorf("create redis credential backend: %w", err)
		}
		return b, nil
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		b, err := credstore.NewPostgresBackend(db, cfg.Namespace)
		if err != nil {
			return nil, fmt.Errorf("create postgres credential backend: %w", err)
		}
		return b, nil
	default:
		b, err := credstore.NewFileBackend(cfg.StateFile)
		if err != nil {
			return nil, fmt.Errorf("create file credential backend: %w", err)
		}
		return b, nil
	}
}

// Close releases backend connections. It is safe to call more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
