// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the gateway process configuration.
type Config struct {
	Env        string `env:"HERA_ENV,default=development"`
	ListenAddr string `env:"HERA_LISTEN_ADDR,default=:8080"`
	LogLevel   string `env:"HERA_LOG_LEVEL,default=info"`
	LogFormat  string `env:"HERA_LOG_FORMAT,default=json"`

	JWTSecret string `env:"HERA_JWT_SECRET,required"`

	DatabaseURL string `env:"HERA_DATABASE_URL,required"`

	RedisAddr     string `env:"HERA_REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"HERA_REDIS_PASSWORD,default="`
	RedisDB       int    `env:"HERA_REDIS_DB,default=0"`

	AuditLogPath       string `env:"HERA_AUDIT_LOG_PATH,default="`
	AllowedOrigins     string `env:"HERA_ALLOWED_ORIGINS,default=*"`
	RateLimitRulesPath string `env:"HERA_RATELIMIT_RULES,default="`

	IdentityCacheTTL time.Duration `env:"HERA_IDENTITY_CACHE_TTL,default=300s"`
	IdempotencyTTL   time.Duration `env:"HERA_IDEMPOTENCY_TTL,default=24h"`
	AuthTimeout      time.Duration `env:"HERA_AUTH_TIMEOUT,default=5s"`
	CacheTimeout     time.Duration `env:"HERA_CACHE_TIMEOUT,default=2s"`
	DispatchTimeout  time.Duration `env:"HERA_DISPATCH_TIMEOUT,default=30s"`

	ShutdownGrace time.Duration `env:"HERA_SHUTDOWN_GRACE,default=15s"`
}

// Load reads configuration from the environment, consulting a .env file in
// development.
func Load() (*Config, error) {
	// Best effort; production supplies real environment variables.
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Origins splits the configured allowed origins.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
