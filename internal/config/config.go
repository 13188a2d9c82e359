// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// AppName is displayed in the startup banner.
	AppName string `mapstructure:"APP_NAME"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// DatabaseURL is the Postgres DSN; empty selects the in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SigningSecret is the HMAC secret for token signing. Required in production.
	SigningSecret string `mapstructure:"SIGNING_SECRET"`
	// Issuer is the iss claim stamped on every token.
	Issuer string `mapstructure:"TOKEN_ISSUER"`
	// Audience is the aud claim stamped on every token.
	Audience string `mapstructure:"TOKEN_AUDIENCE"`
	// AccessTokenTTL is the access token lifetime (e.g. "15m").
	AccessTokenTTL string `mapstructure:"ACCESS_TOKEN_TTL"`
	// RefreshTokenTTL is the refresh token lifetime (e.g. "168h").
	RefreshTokenTTL string `mapstructure:"REFRESH_TOKEN_TTL"`
	// ClockToleranceSeconds absorbs clock skew between issuing and verifying hosts.
	ClockToleranceSeconds int `mapstructure:"CLOCK_TOLERANCE_SECONDS"`
	// ReuseGraceSeconds is the window in which a just-rotated refresh token is still honoured.
	ReuseGraceSeconds int `mapstructure:"REUSE_GRACE_SECONDS"`
	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// LoginRateLimit is the number of login attempts allowed per window per IP; 0 disables limiting.
	LoginRateLimit int `mapstructure:"LOGIN_RATE_LIMIT"`
	// LoginRateWindow is the rate-limit window (e.g. "1m").
	LoginRateWindow string `mapstructure:"LOGIN_RATE_WINDOW"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_NAME", "PromptForge Auth")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SIGNING_SECRET", "")
	v.SetDefault("TOKEN_ISSUER", "promptforge-auth")
	v.SetDefault("TOKEN_AUDIENCE", "promptforge-api")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h") // 7d
	v.SetDefault("CLOCK_TOLERANCE_SECONDS", 30)
	v.SetDefault("REUSE_GRACE_SECONDS", 10)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOGIN_RATE_LIMIT", 10)
	v.SetDefault("LOGIN_RATE_WINDOW", "1m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.Env == "production" && cfg.SigningSecret == "" {
		return nil, errors.New("config: SIGNING_SECRET must be set when APP_ENV=production")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.ClockToleranceSeconds < 0 {
		return nil, errors.New("config: CLOCK_TOLERANCE_SECONDS must not be negative")
	}
	if cfg.ReuseGraceSeconds < 0 {
		return nil, errors.New("config: REUSE_GRACE_SECONDS must not be negative")
	}

	return &cfg, nil
}

// AccessTTL parses AccessTokenTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.AccessTokenTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses RefreshTokenTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.RefreshTokenTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// ClockTolerance returns the verification leeway as a duration.
func (c *Config) ClockTolerance() time.Duration {
	return time.Duration(c.ClockToleranceSeconds) * time.Second
}

// ReuseGrace returns the refresh reuse grace window as a duration.
func (c *Config) ReuseGrace() time.Duration {
	return time.Duration(c.ReuseGraceSeconds) * time.Second
}

// RateWindow parses LoginRateWindow. Returns 1m if unset or invalid.
func (c *Config) RateWindow() time.Duration {
	d, err := time.ParseDuration(c.LoginRateWindow)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}
