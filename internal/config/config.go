// Package config loads service configuration from the environment, an
// optional .env file and an optional YAML seed file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
)

type ServerConfig struct {
	Host           string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port           int           `env:"PORT,default=8080"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=15s"`
	CORSOrigins    []string      `env:"CORS_ALLOWED_ORIGINS"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type DatabaseConfig struct {
	Backend         string        `env:"STORAGE_BACKEND,default=memory"`
	DSN             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	Migrate         bool          `env:"DATABASE_MIGRATE,default=true"`
}

type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB,default=0"`
	GrantTTL time.Duration `env:"VIEW_GRANT_TTL,default=24h"`
}

type SupabaseConfig struct {
	URL        string `env:"SUPABASE_URL"`
	ServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	Schema     string `env:"SUPABASE_SCHEMA,default=public"`
}

type AuthConfig struct {
	JWTSecret      string  `env:"AUTH_JWT_SECRET"`
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=20"`
}

type CreditsConfig struct {
	ViewReportCost int64 `env:"VIEW_REPORT_COST,default=10"`
}

type AirdropConfig struct {
	VerifierMode string        `env:"WALLET_VERIFIER,default=neo"`
	ChallengeTTL time.Duration `env:"AIRDROP_CHALLENGE_TTL,default=5m"`
}

type GeneratorConfig struct {
	URL     string        `env:"CONTENT_GENERATOR_URL"`
	APIKey  string        `env:"CONTENT_GENERATOR_KEY"`
	Timeout time.Duration `env:"CONTENT_GENERATOR_TIMEOUT,default=60s"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

type StatsConfig struct {
	Enabled  bool   `env:"STATS_REFRESH_ENABLED,default=true"`
	Schedule string `env:"STATS_REFRESH_SPEC,default=@every 15m"`
}

type AuditLogConfig struct {
	Path string `env:"CURATOR_AUDIT_LOG"`
}

// SeedConfig points at registry data loaded at startup.
type SeedConfig struct {
	File      string   `env:"CONFIG_FILE"`
	Whitelist []string `env:"WHITELIST_USER_IDS"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Supabase  SupabaseConfig
	Auth      AuthConfig
	Credits   CreditsConfig
	Airdrop   AirdropConfig
	Generator GeneratorConfig
	Logging   LoggingConfig
	Stats     StatsConfig
	AuditLog  AuditLogConfig
	Seed      SeedConfig

	// SeedData is populated from Seed.File and Seed.Whitelist.
	SeedData SeedFile
}

// Load reads .env (when present), decodes the environment and merges the
// YAML seed file named by CONFIG_FILE.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv decodes the current environment without touching .env files.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.normalize()

	if cfg.Seed.File != "" {
		seed, err := LoadSeedFile(cfg.Seed.File)
		if err != nil {
			return nil, err
		}
		cfg.SeedData = *seed
	}
	cfg.SeedData.Whitelist = mergeUnique(cfg.SeedData.Whitelist, cfg.Seed.Whitelist)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Database.Backend = strings.ToLower(strings.TrimSpace(c.Database.Backend))
	if c.Database.Backend == "" {
		c.Database.Backend = BackendMemory
	}
	c.Supabase.URL = strings.TrimRight(strings.TrimSpace(c.Supabase.URL), "/")
	c.Server.CORSOrigins = splitList(c.Server.CORSOrigins)
	c.Seed.Whitelist = splitList(c.Seed.Whitelist)
}

// splitList also accepts comma separated entries inside the
// semicolon-separated lists envdecode produces.
func splitList(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendSupabase:
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Database.Backend))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	if c.Credits.ViewReportCost <= 0 {
		errs = append(errs, errors.New("VIEW_REPORT_COST must be positive"))
	}
	return errors.Join(errs...)
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
