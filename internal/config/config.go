package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                    string        `mapstructure:"PORT"`
	Env                     string        `mapstructure:"ENV"`
	AuthMode                string        `mapstructure:"AUTH_MODE"`
	DatabaseURL             string        `mapstructure:"DATABASE_URL"`
	DBMaxConns              int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns              int32         `mapstructure:"DB_MIN_CONNS"`
	DBStatementTimeout      time.Duration `mapstructure:"DB_STATEMENT_TIMEOUT"`
	RedisURL                string        `mapstructure:"REDIS_URL"`
	AuthIssuer              string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL             string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience            string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey          string        `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant           string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins             []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS            float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst          int           `mapstructure:"RATE_LIMIT_BURST"`
	IngestRateLimitRPS      float64       `mapstructure:"INGEST_RATE_LIMIT_RPS"`
	IngestRateLimitBurst    int           `mapstructure:"INGEST_RATE_LIMIT_BURST"`
	VerificationRulesFile   string        `mapstructure:"VERIFICATION_RULES_FILE"`
	VerificationSampleLimit int           `mapstructure:"VERIFICATION_SAMPLE_LIMIT"`
	RollupEnabled           bool          `mapstructure:"ROLLUP_ENABLED"`
	RollupInterval          time.Duration `mapstructure:"ROLLUP_INTERVAL"`
	CacheTTL                time.Duration `mapstructure:"CACHE_TTL"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_STATEMENT_TIMEOUT", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "DEFAULT_TENANT",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "INGEST_RATE_LIMIT_RPS",
	"INGEST_RATE_LIMIT_BURST", "VERIFICATION_RULES_FILE",
	"VERIFICATION_SAMPLE_LIMIT", "ROLLUP_ENABLED", "ROLLUP_INTERVAL", "CACHE_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_STATEMENT_TIMEOUT", "60s")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("INGEST_RATE_LIMIT_RPS", 2)
	v.SetDefault("INGEST_RATE_LIMIT_BURST", 5)
	v.SetDefault("VERIFICATION_SAMPLE_LIMIT", 10)
	v.SetDefault("ROLLUP_ENABLED", true)
	v.SetDefault("ROLLUP_INTERVAL", "1h")
	v.SetDefault("CACHE_TTL", "5m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.ResolvedAuthMode() == "development" {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, every request gets admin access.")
		log.Println("WARNING: set ENV=production and AUTH_ISSUER or AUTH_SIGNING_KEY before deploying.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development   → "development" (no auth, all requests get admin)
//   - AUTH_ISSUER set   → "external" (JWKS-verified tokens)
//   - Otherwise         → "standalone" (HMAC tokens signed with AUTH_SIGNING_KEY)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthIssuer != "" {
		return "external"
	}
	return "standalone"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE \"development\" is not allowed when ENV=production")
		}
	case "external":
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
		}
	case "standalone":
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes when AUTH_MODE is \"standalone\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"standalone\", or \"external\", got %q", mode)
	}

	if c.VerificationSampleLimit <= 0 {
		return fmt.Errorf("VERIFICATION_SAMPLE_LIMIT must be positive, got %d", c.VerificationSampleLimit)
	}
	if c.RollupEnabled && c.RollupInterval < time.Minute {
		return fmt.Errorf("ROLLUP_INTERVAL must be at least 1m, got %s", c.RollupInterval)
	}
	if c.DBStatementTimeout < 0 {
		return fmt.Errorf("DB_STATEMENT_TIMEOUT must not be negative")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("CACHE_TTL must not be negative")
	}

	return nil
}
