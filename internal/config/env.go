package config

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// Env holds the process-level environment variables the gateway reads
// before its policy configuration (internal/config/types.go,
// internal/config/loader.go) is loaded — the bootstrap knobs a process
// needs before it can even find its config file.
type Env struct {
	AppEnv        string // APP_ENV
	LogLevel      string // LOG_LEVEL
	SharedBaseURL string // SHARED_BASE_URL
	GatewayPort   int    // GATEWAY_PORT
	ConfigPath    string // CONFIG_PATH — path to the gateway's YAML policy file
	RedisAddr     string // REDIS_ADDR — empty means run with the in-process kv.Memory store
	RedisPassword string // REDIS_PASSWORD
	RedisDB       int    // REDIS_DB
	JWTSecret     string // JWT_SECRET — HMAC key for the built-in auth.JWTValidator
	AdminAddr     string // ADMIN_ADDR
}

func (e *Env) GatewayAddr() string {
	return hostPort(e.SharedBaseURL, e.GatewayPort)
}

func (e *Env) IsProduction() bool {
	return e.AppEnv == "production"
}

// hostPort formats host:port, defaulting host to all-interfaces when it
// is empty.
func hostPort(host string, port int) string {
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// LoadEnv loads an optional .env file, then reads environment variables.
//
// Resolution order (last wins):
//  1. .env file (if present — not required)
//  2. Real environment variables (always override .env file)
//
// The .env file is searched in this order:
//  1. ENV_FILE env var (explicit path)
//  2. .env in the current working directory
//  3. ../.env (project root when running from a subdirectory)
func LoadEnv() (*Env, error) {
	// Load .env file if found — does NOT override existing env vars
	loadDotEnv()

	env := &Env{
		AppEnv:        envOr("APP_ENV", "test"),
		LogLevel:      strings.ToUpper(envOr("LOG_LEVEL", "INFO")),
		SharedBaseURL: envOr("SHARED_BASE_URL", "localhost"),
		GatewayPort:   envIntOr("GATEWAY_PORT", 8080),
		ConfigPath:    envOr("CONFIG_PATH", "gateway.yaml"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envIntOr("REDIS_DB", 0),
		JWTSecret:     envOr("JWT_SECRET", "dev-insecure-secret"),
		AdminAddr:     envOr("ADMIN_ADDR", ":9090"),
	}

	env.AppEnv = strings.ToLower(strings.TrimSpace(env.AppEnv))

	if err := env.validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// ── .env file loader ────────────────────────────────────────────────────
// Lightweight loader — no external dependencies. Sets env vars only if
// they are not already set (real env always wins).

func loadDotEnv() {
	// Explicit path takes priority
	candidates := []string{
		os.Getenv("ENV_FILE"),
		".env",
		"../.env",
	}

	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			if err := parseDotEnv(path); err != nil {
				log.Printf("Warning: failed to parse %s: %v", path, err)
			} else {
				log.Printf("Loaded env from %s", path)
			}
			return
		}
	}
	// No .env found — fine, rely on real environment
}

func parseDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip blanks and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Strip surrounding quotes
		value = strings.Trim(value, `"'`)

		// Only set if not already defined — real env always wins
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	return scanner.Err()
}

func (e *Env) validate() error {
	switch e.AppEnv {
	case "production", "test":
	default:
		return fmt.Errorf("APP_ENV must be 'production' or 'test', got %q", e.AppEnv)
	}
	switch e.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("LOG_LEVEL must be DEBUG|INFO|WARN|ERROR, got %q", e.LogLevel)
	}
	if e.IsProduction() && (e.SharedBaseURL == "localhost" || e.SharedBaseURL == "127.0.0.1") {
		return fmt.Errorf("SHARED_BASE_URL cannot be localhost in production")
	}
	if e.GatewayPort < 1 || e.GatewayPort > 65535 {
		return fmt.Errorf("GATEWAY_PORT out of range: %d", e.GatewayPort)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
