package adapters

import (
	"ai_memory/internal/feature/alerts/domain/entity"
	"ai_memory/internal/feature/alerts/usecase"
	"ai_memory/internal/platform/metrics"
)

// PrometheusAlertMetrics は発火と通知結果をPrometheusのカウンターに記録します。
type PrometheusAlertMetrics struct {
	reg *metrics.Registry
}

var _ usecase.AlertMetrics = (*PrometheusAlertMetrics)(nil)

func NewPrometheusAlertMetrics(reg *metrics.Registry) *PrometheusAlertMetrics {
	return &PrometheusAlertMetrics{reg: reg}
}

func (m *PrometheusAlertMetrics) AlertFired(rule string, level entity.Level) {
	m.reg.AlertsFired.WithLabelValues(rule, string(level)).Inc()
}

func (m *PrometheusAlertMetrics) Notified(channel string, ok bool) {
	m.reg.Notifications.WithLabelValues(channel, metrics.Result(ok)).Inc()
}
