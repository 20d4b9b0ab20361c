package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "0 3 * * *", cfg.MinerSchedule)
	assert.False(t, cfg.MatcherParallel)
	assert.Equal(t, 5.0, cfg.VINDecoderRPS)
	assert.True(t, cfg.MemoryStore())
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/supplements")
	t.Setenv("MATCHER_PARALLEL", "true")
	t.Setenv("MINER_SCHEDULE", "")
	t.Setenv("REQUEST_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.MatcherParallel)
	assert.Equal(t, "", cfg.MinerSchedule)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.MemoryStore())
}
