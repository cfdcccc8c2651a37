// Package usecase は監視指標の収集・永続化・ダッシュボード集計を提供します。
package usecase

import (
	"sync"
	"time"

	"ai_memory/internal/feature/monitoring/domain/entity"
)

const defaultMemoryRetention = 24 * time.Hour

// Collector はファネルの指標をメモリ上に集めます。並行呼び出しに対して安全です。
type Collector struct {
	mu         sync.RWMutex
	totals     entity.Totals
	promotions []entity.Point
	queue      []entity.Point
	lastQueue  int

	retention time.Duration
	mirror    Mirror
	now       func() time.Time
}

// NewCollector は新しいCollectorを生成します。mirror は nil でも構いません。
func NewCollector(retention time.Duration, mirror Mirror) *Collector {
	if retention <= 0 {
		retention = defaultMemoryRetention
	}
	if mirror == nil {
		mirror = noopMirror{}
	}
	return &Collector{retention: retention, mirror: mirror, now: time.Now}
}

// RecordPromotion は昇格の成否を記録します。成功時は時系列点も追加します。
func (c *Collector) RecordPromotion(category string, success bool) {
	c.mu.Lock()
	now := c.now()
	if success {
		c.totals.Promotions++
		c.promotions = append(c.promotions, entity.Point{Kind: entity.KindPromotion, Timestamp: now, Value: 1, Label: category})
		c.promotions = trimBefore(c.promotions, now.Add(-c.retention))
	} else {
		c.totals.Rejections++
	}
	c.mu.Unlock()
	c.mirror.Promotion(success)
}

// RecordForgotten は忘却された件数を加算します。
func (c *Collector) RecordForgotten(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.totals.Forgotten += int64(n)
	c.mu.Unlock()
	c.mirror.Forgotten(n)
}

// RecordCacheLookup は判定キャッシュの参照結果を記録します。
func (c *Collector) RecordCacheLookup(hit bool) {
	c.mu.Lock()
	if hit {
		c.totals.CacheHits++
	} else {
		c.totals.CacheMisses++
	}
	c.mu.Unlock()
	c.mirror.CacheLookup(hit)
}

// RecordQueueLength はStagingの保留件数を記録します。
func (c *Collector) RecordQueueLength(n int) {
	c.mu.Lock()
	now := c.now()
	c.lastQueue = n
	c.queue = append(c.queue, entity.Point{Kind: entity.KindQueueLength, Timestamp: now, Value: float64(n)})
	c.queue = trimBefore(c.queue, now.Add(-c.retention))
	c.mu.Unlock()
	c.mirror.QueueLength(n)
}

// Totals は累計値を返します。
func (c *Collector) Totals() entity.Totals {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totals
}

// LastQueueLength は最後に記録された保留件数です。
func (c *Collector) LastQueueLength() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastQueue
}

// Points は保持中の時系列点の複製を返します。
func (c *Collector) Points() (promotions, queue []entity.Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]entity.Point(nil), c.promotions...), append([]entity.Point(nil), c.queue...)
}

// Restore は永続化済みの累計値と時系列点を読み込みます。起動時に一度だけ呼びます。
func (c *Collector) Restore(t entity.Totals, points []entity.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals = t
	c.promotions = c.promotions[:0]
	c.queue = c.queue[:0]
	for _, p := range points {
		switch p.Kind {
		case entity.KindPromotion:
			c.promotions = append(c.promotions, p)
		case entity.KindQueueLength:
			c.queue = append(c.queue, p)
			c.lastQueue = int(p.Value)
		}
	}
}

// Trim は保持期間より古い点を捨てます。
func (c *Collector) Trim() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.retention)
	c.promotions = trimBefore(c.promotions, cutoff)
	c.queue = trimBefore(c.queue, cutoff)
}

// trimBefore は時刻順に並んだ points から cutoff 以前の点を取り除きます。
func trimBefore(points []entity.Point, cutoff time.Time) []entity.Point {
	for i, p := range points {
		if p.Timestamp.After(cutoff) {
			return points[i:]
		}
	}
	return points[:0]
}
