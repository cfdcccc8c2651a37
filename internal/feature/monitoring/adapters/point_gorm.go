// Package adapters は監視指標の永続化とキャッシュ、Prometheusへの反映を実装します。
package adapters

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ai_memory/internal/feature/monitoring/domain/entity"
	"ai_memory/internal/feature/monitoring/usecase"
)

const insertBatchSize = 500

// MetricPointModel は metric_points テーブルの行です。
type MetricPointModel struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	Kind       string    `gorm:"size:32;not null;index:idx_metric_points_kind_time,priority:1"`
	Value      float64   `gorm:"not null"`
	Category   string    `gorm:"size:32"`
	RecordedAt time.Time `gorm:"not null;index:idx_metric_points_kind_time,priority:2;index"`
}

func (MetricPointModel) TableName() string { return "metric_points" }

// MetricTotalsModel は metric_totals テーブルの唯一の行です。
type MetricTotalsModel struct {
	ID          uint `gorm:"primaryKey"`
	Promotions  int64
	Rejections  int64
	Forgotten   int64
	CacheHits   int64
	CacheMisses int64
	UpdatedAt   time.Time
}

func (MetricTotalsModel) TableName() string { return "metric_totals" }

const totalsRowID = 1

// pointGorm はPointRepositoryインターフェースのGORM実装です。
type pointGorm struct {
	db *gorm.DB
}

var _ usecase.PointRepository = (*pointGorm)(nil)

// NewPointGorm は指定されたgorm.DB接続でpointGormの新しいインスタンスを生成します。
func NewPointGorm(db *gorm.DB) *pointGorm {
	return &pointGorm{db: db}
}

// Insert は時系列点をまとめて保存します。
func (r *pointGorm) Insert(ctx context.Context, points []entity.Point) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([]MetricPointModel, 0, len(points))
	for _, p := range points {
		rows = append(rows, MetricPointModel{
			Kind:       string(p.Kind),
			Value:      p.Value,
			Category:   p.Label,
			RecordedAt: p.Timestamp.UTC(),
		})
	}
	return r.db.WithContext(ctx).CreateInBatches(&rows, insertBatchSize).Error
}

// Points は since 以降の点を時刻順に返します。
func (r *pointGorm) Points(ctx context.Context, since time.Time) ([]entity.Point, error) {
	var rows []MetricPointModel
	err := r.db.WithContext(ctx).
		Where("recorded_at >= ?", since.UTC()).
		Order("recorded_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	points := make([]entity.Point, 0, len(rows))
	for _, row := range rows {
		points = append(points, entity.Point{
			Kind:      entity.PointKind(row.Kind),
			Timestamp: row.RecordedAt,
			Value:     row.Value,
			Label:     row.Category,
		})
	}
	return points, nil
}

// Categories は since 以降の昇格点をカテゴリ別に数えます。
func (r *pointGorm) Categories(ctx context.Context, since time.Time) (map[string]int, error) {
	var rows []struct {
		Category string
		Count    int
	}
	err := r.db.WithContext(ctx).
		Model(&MetricPointModel{}).
		Select("category, COUNT(*) AS count").
		Where("kind = ? AND category <> '' AND recorded_at >= ?", string(entity.KindPromotion), since.UTC()).
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Category] = row.Count
	}
	return out, nil
}

// PurgeBefore は before より古い点を削除し、削除件数を返します。
func (r *pointGorm) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("recorded_at < ?", before.UTC()).Delete(&MetricPointModel{})
	return res.RowsAffected, res.Error
}

// SaveTotals は累計値を上書き保存します。
func (r *pointGorm) SaveTotals(ctx context.Context, t entity.Totals) error {
	row := MetricTotalsModel{
		ID:          totalsRowID,
		Promotions:  t.Promotions,
		Rejections:  t.Rejections,
		Forgotten:   t.Forgotten,
		CacheHits:   t.CacheHits,
		CacheMisses: t.CacheMisses,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"promotions", "rejections", "forgotten", "cache_hits", "cache_misses", "updated_at"}),
	}).Create(&row).Error
}

// LoadTotals は保存された累計値を返します。行がなければゼロ値です。
func (r *pointGorm) LoadTotals(ctx context.Context) (entity.Totals, error) {
	var row MetricTotalsModel
	err := r.db.WithContext(ctx).First(&row, totalsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entity.Totals{}, nil
	}
	if err != nil {
		return entity.Totals{}, err
	}
	return entity.Totals{
		Promotions:  row.Promotions,
		Rejections:  row.Rejections,
		Forgotten:   row.Forgotten,
		CacheHits:   row.CacheHits,
		CacheMisses: row.CacheMisses,
	}, nil
}
