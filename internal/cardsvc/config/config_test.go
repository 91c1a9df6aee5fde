package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"CARD_SERVICE_PORT", "STORE_DRIVER", "MATCH_COOLDOWN", "CARD_STYLES", "MATCH_IMMEDIATE_FALLBACK", "FLUSH_MAX_PENDING"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, 10*time.Second, cfg.Cooldown)
	assert.Equal(t, 120*time.Second, cfg.FallbackTimeout)
	assert.True(t, cfg.ImmediateFallback)
	assert.False(t, cfg.AllowForceFallback)
	assert.Equal(t, []int{0, 1, 2}, cfg.Styles)
	assert.Equal(t, 100, cfg.FlushMaxPending)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("MATCH_COOLDOWN", "60")
	t.Setenv("MATCH_FALLBACK_TIMEOUT", "2m")
	t.Setenv("MATCH_IMMEDIATE_FALLBACK", "false")
	t.Setenv("CARD_STYLES", "0, 1, 2, 3")
	t.Setenv("FLUSH_INTERVAL", "250ms")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, time.Minute, cfg.Cooldown)
	assert.Equal(t, 2*time.Minute, cfg.FallbackTimeout)
	assert.False(t, cfg.ImmediateFallback)
	assert.Equal(t, []int{0, 1, 2, 3}, cfg.Styles)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("FLUSH_MAX_PENDING", "lots")
	t.Setenv("CARD_STYLES", "0,x")
	t.Setenv("MATCH_IMMEDIATE_FALLBACK", "maybe")

	cfg := Load()

	assert.Equal(t, 100, cfg.FlushMaxPending)
	assert.Equal(t, []int{0, 1, 2}, cfg.Styles)
	assert.True(t, cfg.ImmediateFallback)
}
