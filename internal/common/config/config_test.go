package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, EventsPoll, cfg.Ledger.Events)
	assert.Equal(t, 300*time.Second, cfg.Proof.MaxAge)
	assert.Equal(t, 30*time.Second, cfg.Proof.CacheTTL)
	assert.Equal(t, "ledger:accounts", cfg.Redis.EventsChannel)
	assert.Zero(t, cfg.Gateway.CacheTTL)
	assert.False(t, cfg.NeedsRedis())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LEDGER_EVENTS", "push")
	t.Setenv("PROOF_CACHE_TTL", "45s")
	t.Setenv("PINNER_CATALOG", "collA=QmA,collB=QmB")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EventsPush, cfg.Ledger.Events)
	assert.Equal(t, 45*time.Second, cfg.Proof.CacheTTL)
	assert.Equal(t, map[string]string{"collA": "QmA", "collB": "QmB"}, cfg.Reveal.Catalog)
	assert.Equal(t, "localhost:6380", cfg.RedisAddr())
	assert.True(t, cfg.NeedsRedis())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Ledger.Events = "carrier-pigeon"
	cfg.Proof.CacheTTL = 0

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "LEDGER_EVENTS")
	assert.Contains(t, err.Error(), "PROOF_CACHE_TTL")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("LEDGER_POLL_INTERVAL", "often")
	_, err := Load()
	assert.Error(t, err)
}
