package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ai_memory/internal/feature/monitoring/domain/entity"
)

const (
	categoryWindow     = 30 * 24 * time.Hour
	defaultDBRetention = 30 * 24 * time.Hour
)

// MonitoringUsecase は指標の永続化とダッシュボード集計を行います。
type MonitoringUsecase struct {
	collector *Collector
	repo      PointRepository
	queue     QueueSource
	cfg       Config

	mu            sync.Mutex
	lastPersisted time.Time
	lastQueue     float64

	now func() time.Time
}

// NewMonitoringUsecase は新しいMonitoringUsecaseを生成します。queue は nil でも構いません。
func NewMonitoringUsecase(collector *Collector, repo PointRepository, queue QueueSource, cfg Config) *MonitoringUsecase {
	if cfg.DBRetention <= 0 {
		cfg.DBRetention = defaultDBRetention
	}
	return &MonitoringUsecase{
		collector: collector,
		repo:      repo,
		queue:     queue,
		cfg:       cfg,
		lastQueue: -1,
		now:       time.Now,
	}
}

// Restore は累計値と保持期間内の時系列点をDBから収集器へ読み込みます。
func (u *MonitoringUsecase) Restore(ctx context.Context) error {
	totals, err := u.repo.LoadTotals(ctx)
	if err != nil {
		return fmt.Errorf("failed to load metric totals: %w", err)
	}
	points, err := u.repo.Points(ctx, u.now().Add(-u.collector.retention))
	if err != nil {
		return fmt.Errorf("failed to load metric points: %w", err)
	}
	u.collector.Restore(totals, points)

	u.mu.Lock()
	for _, p := range points {
		if p.Timestamp.After(u.lastPersisted) {
			u.lastPersisted = p.Timestamp
		}
		if p.Kind == entity.KindQueueLength {
			u.lastQueue = p.Value
		}
	}
	u.mu.Unlock()

	slog.Info("metrics restored",
		"promotions", totals.Promotions,
		"rejections", totals.Rejections,
		"forgotten", totals.Forgotten,
		"points", len(points),
	)
	return nil
}

// Flush は未保存の時系列点と累計値をDBに書き込みます。
// 保留件数の点は値が変わったときだけ保存します。
func (u *MonitoringUsecase) Flush(ctx context.Context) (int, error) {
	u.sampleQueue(ctx)

	u.mu.Lock()
	defer u.mu.Unlock()

	promotions, queue := u.collector.Points()
	pending := make([]entity.Point, 0, len(promotions)+len(queue))
	newest := u.lastPersisted
	for _, p := range promotions {
		if p.Timestamp.After(u.lastPersisted) {
			pending = append(pending, p)
			newest = later(newest, p.Timestamp)
		}
	}
	lastQueue := u.lastQueue
	for _, p := range queue {
		if !p.Timestamp.After(u.lastPersisted) {
			continue
		}
		if p.Value != lastQueue {
			pending = append(pending, p)
			lastQueue = p.Value
		}
		newest = later(newest, p.Timestamp)
	}

	if len(pending) > 0 {
		if err := u.repo.Insert(ctx, pending); err != nil {
			return 0, fmt.Errorf("failed to persist metric points: %w", err)
		}
	}
	if err := u.repo.SaveTotals(ctx, u.collector.Totals()); err != nil {
		return len(pending), fmt.Errorf("failed to persist metric totals: %w", err)
	}
	u.lastPersisted = newest
	u.lastQueue = lastQueue
	u.collector.Trim()
	return len(pending), nil
}

func (u *MonitoringUsecase) sampleQueue(ctx context.Context) {
	if u.queue == nil {
		return
	}
	n, err := u.queue.QueueLength(ctx)
	if err != nil {
		slog.Warn("queue length sample failed", "error", err)
		return
	}
	u.collector.RecordQueueLength(n)
}

// Purge はDB保持期間より古い時系列点を削除します。
func (u *MonitoringUsecase) Purge(ctx context.Context) (int64, error) {
	n, err := u.repo.PurgeBefore(ctx, u.now().Add(-u.cfg.DBRetention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge metric points: %w", err)
	}
	if n > 0 {
		slog.Info("old metric points purged", "deleted", n, "retention", u.cfg.DBRetention)
	}
	return n, nil
}

// Snapshot は収集器の現在値を返します。
func (u *MonitoringUsecase) Snapshot(ctx context.Context) entity.Snapshot {
	totals := u.collector.Totals()
	promotions, queue := u.collector.Points()
	return entity.Snapshot{
		Totals:               totals,
		PromotionSuccessRate: totals.SuccessRate(),
		CacheHitRate:         totals.CacheHitRate(),
		QueueLength:          u.currentQueue(ctx),
		PromotionPoints:      len(promotions),
		QueuePoints:          len(queue),
	}
}

func (u *MonitoringUsecase) currentQueue(ctx context.Context) int {
	if u.queue != nil {
		if n, err := u.queue.QueueLength(ctx); err == nil {
			return n
		}
	}
	return u.collector.LastQueueLength()
}

// Dashboard は期間内の傾向とカテゴリ分布を集計します。
// DBの点に、DBの最新点より新しいメモリ上の点を合わせて集計します。DBが使えない場合はメモリ上の点だけを使います。
func (u *MonitoringUsecase) Dashboard(ctx context.Context, rangeKey string) (*entity.Dashboard, error) {
	r := entity.ParseRange(rangeKey)
	now := u.now()
	since := now.Add(-time.Duration(r.Hours()) * time.Hour).Truncate(time.Minute)

	stored, err := u.repo.Points(ctx, since)
	if err != nil {
		slog.Warn("metric points query failed; using in-memory points", "error", err)
		stored = nil
	}
	var newest time.Time
	for _, p := range stored {
		newest = later(newest, p.Timestamp)
	}

	var promotions, queue []entity.Point
	for _, p := range stored {
		switch p.Kind {
		case entity.KindPromotion:
			promotions = append(promotions, p)
		case entity.KindQueueLength:
			queue = append(queue, p)
		}
	}
	memPromotions, memQueue := u.collector.Points()
	promotions = appendNewer(promotions, memPromotions, newest)
	queue = appendNewer(queue, memQueue, newest)

	cats, err := u.repo.Categories(ctx, now.Add(-categoryWindow).Truncate(time.Minute))
	if err != nil {
		slog.Warn("category distribution query failed", "error", err)
		cats = map[string]int{}
	}

	totals := u.collector.Totals()
	return &entity.Dashboard{
		Totals:               totals,
		PromotionSuccessRate: totals.SuccessRate(),
		CacheHitRate:         totals.CacheHitRate(),
		QueueLength:          u.currentQueue(ctx),
		PromotionTrend:       aggregate(promotions, r, now, false),
		QueueLengthTrend:     aggregate(queue, r, now, true),
		Categories:           distribution(cats),
		Timestamp:            now.UTC(),
		RangeHours:           r.Hours(),
	}, nil
}

func appendNewer(dst, src []entity.Point, after time.Time) []entity.Point {
	for _, p := range src {
		if p.Timestamp.After(after) {
			dst = append(dst, p)
		}
	}
	return dst
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
