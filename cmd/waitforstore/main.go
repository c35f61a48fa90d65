// Command waitforstore blocks until the configured credential backend
// answers, for use in container entrypoints before dashctl runs.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"dashmonitor/dashctl/internal/config"
	"dashmonitor/dashctl/internal/credstore"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_STORE_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			fmt.Fprintf(os.Stderr, "invalid WAIT_FOR_STORE_TIMEOUT_SEC: %q\n", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}

	// connect is retried until it yields a backend; NewPostgresBackend needs
	// the server up to ensure its schema.
	var connect func() (pinger, error)
	switch cfg.Credentials.Backend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Credentials.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open postgres: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		connect = func() (pinger, error) {
			b, err := credstore.NewPostgresBackend(db, cfg.Credentials.Namespace)
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Credentials.RedisAddr})
		defer client.Close()
		connect = func() (pinger, error) {
			b, err := credstore.NewRedisBackend(client, cfg.Credentials.Namespace)
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	default:
		fmt.Printf("%s backend needs no wait\n", cfg.Credentials.Backend)
		return
	}

	var backend pinger
	deadline := time.Now().Add(timeout)
	for {
		if backend == nil {
			backend, err = connect()
		}
		if backend != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err = backend.Ping(ctx)
			cancel()
		}
		if err == nil {
			fmt.Printf("%s ready\n", cfg.Credentials.Backend)
			return
		}
		if time.Now().After(deadline) {
			fmt.Fprintf(os.Stderr, "%s not ready within %s: %v\n", cfg.Credentials.Backend, timeout, err)
			os.Exit(1)
		}
		time.Sleep(2 * time.Second)
	}
}
