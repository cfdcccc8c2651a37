package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ai_memory/internal/feature/monitoring/domain/entity"
	"ai_memory/internal/feature/monitoring/usecase"
	"ai_memory/internal/platform/cache"
)

// CachingPointRepository はPointRepositoryの範囲クエリをRedisでキャッシュするデコレーターです。
// 書き込み（Insert / PurgeBefore）のたびに名前空間のキーを全て無効化します。
type CachingPointRepository struct {
	inner     usecase.PointRepository
	rdb       redis.UniversalClient
	ttl       time.Duration
	namespace string
	now       func() time.Time
}

var _ usecase.PointRepository = (*CachingPointRepository)(nil)

// NewCachingPointRepository はPointRepositoryをRedisキャッシュで包みます。
// ttl が0以下の場合は30秒、namespace が空の場合は "metrics" を使います。
func NewCachingPointRepository(rdb redis.UniversalClient, ttl time.Duration, inner usecase.PointRepository, namespace string) *CachingPointRepository {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if namespace == "" {
		namespace = "metrics"
	}
	return &CachingPointRepository{
		inner:     inner,
		rdb:       rdb,
		ttl:       ttl,
		namespace: namespace,
		now:       time.Now,
	}
}

// Insert は点を保存し、キャッシュを無効化します。
func (c *CachingPointRepository) Insert(ctx context.Context, points []entity.Point) error {
	if err := c.inner.Insert(ctx, points); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

// PurgeBefore は古い点を削除し、キャッシュを無効化します。
func (c *CachingPointRepository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	n, err := c.inner.PurgeBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidate(ctx)
	}
	return n, nil
}

// cachedPoint はキャッシュ上の点です。Kind を保持するため entity.Point とは別に定義します。
type cachedPoint struct {
	Kind      entity.PointKind `json:"kind"`
	Timestamp time.Time        `json:"ts"`
	Value     float64          `json:"v"`
	Label     string           `json:"l,omitempty"`
}

// Points はキャッシュを先に確認し、なければDBから取得します。
func (c *CachingPointRepository) Points(ctx context.Context, since time.Time) ([]entity.Point, error) {
	if c.rdb == nil {
		return c.inner.Points(ctx, since)
	}
	key := c.cacheKey("points", since)

	var cached []cachedPoint
	if c.load(ctx, key, &cached) {
		out := make([]entity.Point, 0, len(cached))
		for _, p := range cached {
			out = append(out, entity.Point{Kind: p.Kind, Timestamp: p.Timestamp, Value: p.Value, Label: p.Label})
		}
		return out, nil
	}

	out, err := c.inner.Points(ctx, since)
	if err != nil {
		return nil, err
	}
	cached = make([]cachedPoint, 0, len(out))
	for _, p := range out {
		cached = append(cached, cachedPoint{Kind: p.Kind, Timestamp: p.Timestamp, Value: p.Value, Label: p.Label})
	}
	c.store(ctx, key, cached)
	return out, nil
}

// Categories はキャッシュを先に確認し、なければDBから集計します。
func (c *CachingPointRepository) Categories(ctx context.Context, since time.Time) (map[string]int, error) {
	if c.rdb == nil {
		return c.inner.Categories(ctx, since)
	}
	key := c.cacheKey("categories", since)

	var cached map[string]int
	if c.load(ctx, key, &cached) {
		return cached, nil
	}
	out, err := c.inner.Categories(ctx, since)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, out)
	return out, nil
}

func (c *CachingPointRepository) SaveTotals(ctx context.Context, t entity.Totals) error {
	return c.inner.SaveTotals(ctx, t)
}

func (c *CachingPointRepository) LoadTotals(ctx context.Context) (entity.Totals, error) {
	return c.inner.LoadTotals(ctx)
}

// load はキャッシュを読み込みます。壊れたエントリは削除して false を返します。
func (c *CachingPointRepository) load(ctx context.Context, key string, dst any) bool {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil || len(b) == 0 {
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		_ = c.rdb.Del(ctx, key).Err()
		return false
	}
	return true
}

// store はキャッシュに書き込みます。TTLは次の分境界を越えません。
func (c *CachingPointRepository) store(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	ttl := cache.BoundedTTL(c.now(), time.Minute, c.ttl)
	_ = c.rdb.Set(ctx, key, b, ttl).Err()
}

func (c *CachingPointRepository) cacheKey(kind string, since time.Time) string {
	return fmt.Sprintf("%s:%s:%d", c.namespace, kind, since.Unix())
}

func (c *CachingPointRepository) invalidate(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	if err := c.deleteByPattern(ctx, c.namespace+":*"); err != nil {
		slog.Warn("metrics cache invalidation failed", "error", err)
	}
}

// deleteByPattern は SCAN でパターンに一致するキーを削除します。
func (c *CachingPointRepository) deleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, cur, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = cur
		if cursor == 0 {
			break
		}
	}
	return nil
}
