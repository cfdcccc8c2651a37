package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_memory/internal/feature/alerts/domain/entity"
	monitoring "ai_memory/internal/feature/monitoring/domain/entity"
	"ai_memory/internal/platform/metrics"
)

type staticTotals monitoring.Totals

func (s staticTotals) Totals() monitoring.Totals { return monitoring.Totals(s) }

type queueCounterFunc func(ctx context.Context) (int, error)

func (f queueCounterFunc) QueueLength(ctx context.Context) (int, error) { return f(ctx) }

func TestMonitoringSignals(t *testing.T) {
	totals := staticTotals{Promotions: 8, Rejections: 2, Forgotten: 40, CacheHits: 3, CacheMisses: 7}

	t.Run("combines totals and queue length", func(t *testing.T) {
		s := NewMonitoringSignals(totals, queueCounterFunc(func(context.Context) (int, error) { return 12, nil }))

		got, err := s.Signals(context.Background())

		require.NoError(t, err)
		assert.Equal(t, entity.Signals{QueueLength: 12, Promotions: 8, Rejections: 2, Forgotten: 40, CacheHits: 3, CacheMisses: 7}, got)
	})

	t.Run("queue error", func(t *testing.T) {
		s := NewMonitoringSignals(totals, queueCounterFunc(func(context.Context) (int, error) { return 0, errors.New("redis down") }))

		_, err := s.Signals(context.Background())

		assert.Error(t, err)
	})
}

func TestPrometheusAlertMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	m := NewPrometheusAlertMetrics(reg)

	m.AlertFired(entity.RuleQueueBacklog, entity.LevelWarning)
	m.AlertFired(entity.RuleQueueBacklog, entity.LevelWarning)
	m.Notified("webhook", true)
	m.Notified("email", false)

	assert.Equal(t, float64(2), testutil.ToFloat64(reg.AlertsFired.WithLabelValues("queue_backlog", "WARNING")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.Notifications.WithLabelValues("webhook", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.Notifications.WithLabelValues("email", "failure")))
}
