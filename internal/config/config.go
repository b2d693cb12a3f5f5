package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the server needs.
type Config struct {
	Server ServerConfig
	Auth   AuthConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Auth: auth}, nil
}

// ServerConfig describes the HTTP listener and static asset serving.
type ServerConfig struct {
	Addr       string
	StaticDir  string
	CORSOrigin string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3000"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		// Accept both ":3000" and "0.0.0.0:3000" forms.
		addr = ":" + port
	}

	return ServerConfig{
		Addr:       addr,
		StaticDir:  getEnvOrDefault("STATIC_DIR", "public"),
		CORSOrigin: getEnvOrDefault("CORS_ORIGIN", "*"),
	}, nil
}

// AuthConfig describes wallet-login token issuance. The signing secret
// has no default: deployments must provide it.
type AuthConfig struct {
	JWTSecret []byte
	TokenTTL  time.Duration
}

func loadAuthConfig() (AuthConfig, error) {
	secret := strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET"))
	if secret == "" {
		return AuthConfig{}, fmt.Errorf("AUTH_JWT_SECRET is required")
	}

	ttl := time.Hour
	if override, err := parseOptionalIntEnv("AUTH_TOKEN_TTL_MINUTES"); err != nil {
		return AuthConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AuthConfig{}, fmt.Errorf("AUTH_TOKEN_TTL_MINUTES must be positive, got %d", *override)
		}
		ttl = time.Duration(*override) * time.Minute
	}

	return AuthConfig{JWTSecret: []byte(secret), TokenTTL: ttl}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
