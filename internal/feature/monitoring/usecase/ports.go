package usecase

import (
	"context"
	"time"

	"ai_memory/internal/feature/monitoring/domain/entity"
)

// PointRepository は時系列点と累計値を永続化します。
type PointRepository interface {
	Insert(ctx context.Context, points []entity.Point) error
	Points(ctx context.Context, since time.Time) ([]entity.Point, error)
	// Categories は since 以降の昇格点をカテゴリ別に数えます。
	Categories(ctx context.Context, since time.Time) (map[string]int, error)
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
	SaveTotals(ctx context.Context, t entity.Totals) error
	// LoadTotals は保存がなければゼロ値を返します。
	LoadTotals(ctx context.Context) (entity.Totals, error)
}

// QueueSource は保留中のStaging件数を返します。
type QueueSource interface {
	QueueLength(ctx context.Context) (int, error)
}

// Mirror は収集した値を外部の指標系に反映します。
type Mirror interface {
	Promotion(success bool)
	Forgotten(n int)
	CacheLookup(hit bool)
	QueueLength(n int)
}

// Config は保持期間の設定です。
type Config struct {
	MemoryRetention time.Duration
	DBRetention     time.Duration
}

type noopMirror struct{}

func (noopMirror) Promotion(bool)   {}
func (noopMirror) Forgotten(int)    {}
func (noopMirror) CacheLookup(bool) {}
func (noopMirror) QueueLength(int)  {}
