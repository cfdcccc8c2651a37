package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParse_Defaults は環境変数未設定時に既定値が適用されることを検証します。
func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 100, cfg.Memory.ContextWindow)
	assert.Equal(t, 7, cfg.Memory.STMExpirationDays)
	assert.Equal(t, 10, cfg.Memory.STMBatchJudgeSize)
	assert.Equal(t, 2, cfg.Memory.StagingMinOccurrences)
	assert.Equal(t, 48, cfg.Memory.StagingMinWaitHours)
	assert.InDelta(t, 0.6, cfg.Memory.StagingValueThreshold, 1e-9)
	assert.InDelta(t, 0.8, cfg.Memory.StagingConfidenceHigh, 1e-9)
	assert.InDelta(t, 0.5, cfg.Memory.StagingConfidenceLow, 1e-9)
	assert.Equal(t, 90, cfg.Memory.DecayHalfLifeDays)
	assert.InDelta(t, 0.3, cfg.Memory.DecayMinScore, 1e-9)
	assert.Equal(t, time.Minute, cfg.Alert.CheckInterval)
	assert.Equal(t, 10*time.Minute, cfg.Alert.QueueBacklogCooldown)
	assert.Equal(t, []string{"ERROR", "WARNING"}, cfg.Notify.Levels)
	assert.Equal(t, 5*time.Second, cfg.Notify.WebhookTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.False(t, cfg.IsProduction())
}

// TestParse_Overrides は環境変数による上書きを検証します。
func TestParse_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("APP_ENV", "production")
	t.Setenv("STAGING_MIN_OCCURRENCES", "3")
	t.Setenv("ALERT_NOTIFY_LEVELS", "ERROR")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("JWT_ACCESS_TTL", "15m")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 3, cfg.Memory.StagingMinOccurrences)
	assert.Equal(t, []string{"ERROR"}, cfg.Notify.Levels)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
}

// TestParse_Invalid は不正な値がエラーになることを検証します。
func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"non numeric", "CONTEXT_WINDOW", "many"},
		{"zero batch size", "STM_BATCH_JUDGE_SIZE", "0"},
		{"zero half life", "LTM_DECAY_HALF_LIFE_DAYS", "0"},
		{"low above high", "STAGING_CONFIDENCE_LOW", "0.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}
