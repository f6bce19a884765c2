package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR", "45s")
	assert.Equal(t, 45*time.Second, durationEnv("TEST_DUR", time.Minute))

	t.Setenv("TEST_DUR", "nonsense")
	assert.Equal(t, time.Minute, durationEnv("TEST_DUR", time.Minute))

	assert.Equal(t, time.Minute, durationEnv("TEST_DUR_UNSET", time.Minute))
}

func TestBoolEnv(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	assert.True(t, boolEnv("TEST_BOOL", false))

	t.Setenv("TEST_BOOL", "0")
	assert.False(t, boolEnv("TEST_BOOL", true))

	t.Setenv("TEST_BOOL", "maybe")
	assert.True(t, boolEnv("TEST_BOOL", true))
}

func TestIntEnv(t *testing.T) {
	t.Setenv("TEST_INT", "240")
	assert.Equal(t, 240, intEnv("TEST_INT", 120))

	t.Setenv("TEST_INT", "many")
	assert.Equal(t, 120, intEnv("TEST_INT", 120))
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, "redis", cfg.TreeBackend)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, time.Second, cfg.FrameInterval)
}
