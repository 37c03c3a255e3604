package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 3, cfg.Evaluations.MinRatedCategories)
	assert.Equal(t, 10*time.Minute, cfg.Templates.CacheTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "cliniclink-api", cfg.ServiceName)
	assert.Equal(t, "cliniclink", cfg.Redis.KeyPrefix)
	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, []string{"/health", "/ready", "/metrics"}, cfg.Log.SkipPaths)
}

func TestLoadFromEnvironment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ENABLE_TEMPLATE_CACHE", "true")
	t.Setenv("TEMPLATE_CACHE_TTL", "90s")
	t.Setenv("MIN_RATED_CATEGORIES", "4")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.Templates.CacheEnabled)
	assert.Equal(t, 90*time.Second, cfg.Templates.CacheTTL)
	assert.Equal(t, 4, cfg.Evaluations.MinRatedCategories)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoadRejectsDevelopmentSecretsInProduction(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ENV", EnvProduction)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	t.Setenv("JWT_SECRET", "a-real-secret")
	t.Setenv("ENABLE_REPORTS", "true")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPORTS_SIGNED_URL_SECRET")

	t.Setenv("REPORTS_SIGNED_URL_SECRET", "another-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, cfg.Env)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	assert.Equal(t, 2*time.Hour, parseDuration("2h", time.Minute))
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
