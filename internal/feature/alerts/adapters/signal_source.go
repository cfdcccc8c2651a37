package adapters

import (
	"context"

	"ai_memory/internal/feature/alerts/domain/entity"
	"ai_memory/internal/feature/alerts/usecase"
	monitoring "ai_memory/internal/feature/monitoring/domain/entity"
)

// TotalsProvider は監視の累計値を返します。
type TotalsProvider interface {
	Totals() monitoring.Totals
}

// QueueCounter はステージングキューの件数を返します。
type QueueCounter interface {
	QueueLength(ctx context.Context) (int, error)
}

// MonitoringSignals は監視の累計値とキュー長からルール評価用の指標を組み立てます。
type MonitoringSignals struct {
	totals TotalsProvider
	queue  QueueCounter
}

var _ usecase.SignalSource = (*MonitoringSignals)(nil)

// NewMonitoringSignals は新しいMonitoringSignalsを生成します。
func NewMonitoringSignals(totals TotalsProvider, queue QueueCounter) *MonitoringSignals {
	return &MonitoringSignals{totals: totals, queue: queue}
}

func (s *MonitoringSignals) Signals(ctx context.Context) (entity.Signals, error) {
	n, err := s.queue.QueueLength(ctx)
	if err != nil {
		return entity.Signals{}, err
	}
	t := s.totals.Totals()
	return entity.Signals{
		QueueLength: n,
		Promotions:  t.Promotions,
		Rejections:  t.Rejections,
		Forgotten:   t.Forgotten,
		CacheHits:   t.CacheHits,
		CacheMisses: t.CacheMisses,
	}, nil
}
