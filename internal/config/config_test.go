package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/scenegen/pkg/types"
)

func TestSetDefaults(t *testing.T) {
	c := &Config{}
	c.SetDefaults()
	assert.Equal(t, "claude-3-opus-20240229", c.LLM.Model)
	assert.Equal(t, 1000, c.LLM.BestPracticeMaxTokens)
	assert.Equal(t, 2000, c.LLM.CodeMaxTokens)
	assert.Equal(t, "manim", c.Cache.Namespace)
	assert.True(t, strings.HasPrefix(c.Cache.URL, "rediss://"), "cache must default to TLS")
	assert.Equal(t, time.Hour, c.CacheTTL())
	assert.Equal(t, 3, c.Cache.RetryMaxAttempts)
	assert.Equal(t, types.DefaultChannel, c.Notify.Channel)
	assert.Equal(t, "mongo", c.Store.Driver)
	assert.Equal(t, 3001, c.Server.Port)
	assert.Equal(t, "info", c.Log.Level)
}

func TestLoadFromYAML(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	body := "llm:\n  model: claude-test\ncache:\n  ttl_seconds: 60\nstore:\n  driver: sqlite\nserver:\n  port: 8080\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "claude-test", cfg.LLM.Model)
	assert.Equal(t, time.Minute, cfg.CacheTTL())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "manim", cfg.Cache.Namespace)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-legacy")
	t.Setenv("REDIS_URI", "rediss://cache.example.com:6380")
	t.Setenv("SCENEGEN_SERVER_ALLOW_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("SCENEGEN_CACHE_TLS", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-legacy", cfg.LLM.APIKey)
	assert.Equal(t, "rediss://cache.example.com:6380", cfg.Cache.URL)
	assert.True(t, cfg.Cache.TLS)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowOrigins)

	t.Setenv("SCENEGEN_LLM_API_KEY", "prefixed")
	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	c := &Config{}
	c.SetDefaults()
	require.NoError(t, c.Validate())

	c.Store.Driver = "postgres"
	assert.Error(t, c.Validate())

	c.Store.Driver = "sqlite"
	c.LLM.APIKey = " "
	err := c.ValidateGenerate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfiguration))

	c.LLM.APIKey = "key"
	assert.NoError(t, c.ValidateGenerate())
}
