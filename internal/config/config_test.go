package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 15*time.Minute, cfg.AccessTTL())
	require.Equal(t, 168*time.Hour, cfg.RefreshTTL())
	require.Equal(t, 30*time.Second, cfg.ClockTolerance())
	require.Equal(t, 10*time.Second, cfg.ReuseGrace())
	require.Equal(t, 12, cfg.BcryptCost)
}

func TestLoadRejectsProductionWithoutSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("SIGNING_SECRET", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("SIGNING_SECRET", "super-secret")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "super-secret", cfg.SigningSecret)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{AccessTokenTTL: "garbage", RefreshTokenTTL: "-5m", LoginRateWindow: ""}
	require.Equal(t, 15*time.Minute, cfg.AccessTTL())
	require.Equal(t, 168*time.Hour, cfg.RefreshTTL())
	require.Equal(t, time.Minute, cfg.RateWindow())
}
