// Package entity は監視指標のドメイン型を定義します。
package entity

import "time"

// PointKind は時系列点の種類です。
type PointKind string

const (
	KindPromotion   PointKind = "promotion"
	KindQueueLength PointKind = "queue_length"
)

// Point は時系列の1点です。Label は昇格時のカテゴリです。
type Point struct {
	Kind      PointKind `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Label     string    `json:"label,omitempty"`
}

// Totals は起動をまたいで保持する累計値です。
type Totals struct {
	Promotions  int64 `json:"total_promotions"`
	Rejections  int64 `json:"total_rejections"`
	Forgotten   int64 `json:"total_forgotten"`
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
}

// SuccessRate は昇格の成功率（%）です。試行がなければ0です。
func (t Totals) SuccessRate() float64 {
	return percent(t.Promotions, t.Promotions+t.Rejections)
}

// CacheHitRate は判定キャッシュのヒット率（%）です。
func (t Totals) CacheHitRate() float64 {
	return percent(t.CacheHits, t.CacheHits+t.CacheMisses)
}

// Attempts は昇格の試行回数です。
func (t Totals) Attempts() int64 { return t.Promotions + t.Rejections }

// CacheLookups は判定キャッシュの参照回数です。
func (t Totals) CacheLookups() int64 { return t.CacheHits + t.CacheMisses }

func percent(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// Snapshot は収集器の現在値です。
type Snapshot struct {
	Totals
	PromotionSuccessRate float64 `json:"promotion_success_rate"`
	CacheHitRate         float64 `json:"cache_hit_rate"`
	QueueLength          int     `json:"current_queue_length"`
	PromotionPoints      int     `json:"promotion_points"`
	QueuePoints          int     `json:"queue_points"`
}

// CategoryCount はLTMのカテゴリ別件数です。
type CategoryCount struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	Percent  float64 `json:"percent"`
}

// Dashboard はダッシュボード用の集計です。
type Dashboard struct {
	Totals
	PromotionSuccessRate float64         `json:"promotion_success_rate"`
	CacheHitRate         float64         `json:"cache_hit_rate"`
	QueueLength          int             `json:"current_queue_length"`
	PromotionTrend       []Point         `json:"promotion_trend"`
	QueueLengthTrend     []Point         `json:"queue_length_trend"`
	Categories           []CategoryCount `json:"category_distribution"`
	Timestamp            time.Time       `json:"timestamp"`
	RangeHours           int             `json:"data_range_hours"`
}
