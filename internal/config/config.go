package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	API          APIConfig
	Credentials  CredentialConfig
	AuditLogFile string
	LogLevel     string
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type CredentialConfig struct {
	Backend     string
	StateFile   string
	RedisAddr   string
	Namespace   string
	DatabaseURL string
}

// Load reads ./.env (when present) and then the process environment.
func Load() (Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with explicit dotenv files. Missing files are skipped and
// variables already present in the environment win over file values.
func LoadFrom(dotenvFiles ...string) (Config, error) {
	for _, p := range dotenvFiles {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", p, err)
		}
	}

	cfg := Config{
		API: APIConfig{
			BaseURL: strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:5000/api"), "/"),
			Timeout: time.Duration(getEnvInt("API_TIMEOUT_SEC", 10)) * time.Second,
		},
		Credentials: CredentialConfig{
			Backend:     strings.ToLower(getEnv("CRED_BACKEND", BackendFile)),
			StateFile:   getEnv("CRED_STATE_FILE", "./data/credentials.json"),
			RedisAddr:   getEnv("CRED_REDIS_ADDR", "localhost:6379"),
			Namespace:   strings.TrimSuffix(strings.TrimSpace(getEnv("CRED_NAMESPACE", "dashctl")), ":"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		AuditLogFile: getEnv("AUDIT_LOG_FILE", "./data/audit.log"),
		LogLevel:     strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if cfg.API.BaseURL == "" {
		return Config{}, fmt.Errorf("API_BASE_URL must not be empty")
	}
	if cfg.API.Timeout <= 0 {
		return Config{}, fmt.Errorf("API_TIMEOUT_SEC must be > 0")
	}
	switch cfg.Credentials.Backend {
	case BackendFile:
		if cfg.Credentials.StateFile == "" {
			return Config{}, fmt.Errorf("CRED_STATE_FILE must not be empty")
		}
	case BackendMemory:
	case BackendRedis:
		if cfg.Credentials.RedisAddr == "" {
			return Config{}, fmt.Errorf("CRED_REDIS_ADDR must not be empty")
		}
		if cfg.Credentials.Namespace == "" {
			return Config{}, fmt.Errorf("CRED_NAMESPACE must not be empty")
		}
	case BackendPostgres:
		if cfg.Credentials.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres credential backend")
		}
		if cfg.Credentials.Namespace == "" {
			return Config{}, fmt.Errorf("CRED_NAMESPACE must not be empty")
		}
	default:
		return Config{}, fmt.Errorf("CRED_BACKEND %q is not one of file, memory, redis, postgres", cfg.Credentials.Backend)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", cfg.LogLevel)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}
