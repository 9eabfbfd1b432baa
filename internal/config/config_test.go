package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/resume-matcher/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MinWorkers)
	assert.Equal(t, 50, cfg.MaxWorkers)
	assert.Equal(t, 1000, cfg.QueueHighWatermark)
	assert.Equal(t, 10, cfg.QueueLowWatermark)
	assert.Equal(t, 30*time.Second, cfg.ScaleInterval)
	assert.Equal(t, 3, cfg.JobMaxRetries)
	assert.Equal(t, 10, cfg.CircuitThreshold)
	assert.Equal(t, 5*time.Minute, cfg.CircuitWindow)
	assert.Equal(t, 5*time.Minute, cfg.CircuitRecovery)
	assert.Equal(t, 200, cfg.MaxGlobalConcurrent)
	assert.InDelta(t, 0.80, cfg.WeightSkills, 1e-9)
	assert.InDelta(t, 0.50, cfg.SkillReportThreshold, 1e-9)
	assert.GreaterOrEqual(t, cfg.StatusTTL, 10*time.Minute)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MIN_WORKERS", "4")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MinWorkers)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestAdminEnabled(t *testing.T) {
	cfg := config.Config{}
	assert.False(t, cfg.AdminEnabled())
	cfg.AdminUsername = "ops"
	cfg.AdminPassword = "secret"
	assert.True(t, cfg.AdminEnabled())
}
