package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ai_memory/internal/feature/memory/domain/entity"
	"ai_memory/internal/feature/memory/usecase"
)

const judgeCachePrefix = "memory:judge_cache:"

// JudgeCacheRedis は内容のSHA-256をキーに判定結果をキャッシュします。
// キャッシュの失敗は判定を止めないため、エラーはログに残して miss として扱います。
type JudgeCacheRedis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ usecase.JudgeCache = (*JudgeCacheRedis)(nil)

// NewJudgeCacheRedis creates a new JudgeCacheRedis instance.
func NewJudgeCacheRedis(client redis.UniversalClient, ttl time.Duration) *JudgeCacheRedis {
	return &JudgeCacheRedis{client: client, ttl: ttl}
}

func judgeCacheKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return judgeCachePrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached result for content.
func (c *JudgeCacheRedis) Get(ctx context.Context, content string) (*entity.JudgeResult, bool) {
	data, err := c.client.Get(ctx, judgeCacheKey(content)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("judge cache read failed", "error", err)
		}
		return nil, false
	}
	var jr entity.JudgeResult
	if err := json.Unmarshal(data, &jr); err != nil {
		slog.Warn("judge cache entry corrupted", "error", err)
		return nil, false
	}
	return &jr, true
}

// Set stores jr for content.
func (c *JudgeCacheRedis) Set(ctx context.Context, content string, jr entity.JudgeResult) {
	data, err := json.Marshal(jr)
	if err != nil {
		slog.Warn("judge cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, judgeCacheKey(content), data, c.ttl).Err(); err != nil {
		slog.Warn("judge cache write failed", "error", err)
	}
}
