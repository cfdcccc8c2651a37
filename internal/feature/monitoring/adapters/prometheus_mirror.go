package adapters

import (
	"ai_memory/internal/feature/monitoring/usecase"
	"ai_memory/internal/platform/metrics"
)

// PrometheusMirror は収集器の値をPrometheusの指標に反映します。
type PrometheusMirror struct {
	reg *metrics.Registry
}

var _ usecase.Mirror = (*PrometheusMirror)(nil)

// NewPrometheusMirror は新しいPrometheusMirrorを生成します。
func NewPrometheusMirror(reg *metrics.Registry) *PrometheusMirror {
	return &PrometheusMirror{reg: reg}
}

func (m *PrometheusMirror) Promotion(success bool) {
	m.reg.Promotions.WithLabelValues(metrics.Result(success)).Inc()
}

func (m *PrometheusMirror) Forgotten(n int) {
	m.reg.Forgotten.Add(float64(n))
}

func (m *PrometheusMirror) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.reg.JudgeCache.WithLabelValues(result).Inc()
}

func (m *PrometheusMirror) QueueLength(n int) {
	m.reg.StagingQueue.Set(float64(n))
}
