package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ai_memory/internal/feature/memory/usecase"
)

const judgeLockPrefix = "memory:judge_lock:"

// 自分のトークンが入っている場合だけ削除する
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// JudgeLockRedis はセッション単位の判定ロックを SET NX PX で取得します。
type JudgeLockRedis struct {
	client redis.UniversalClient
}

var _ usecase.SessionLocker = (*JudgeLockRedis)(nil)

// NewJudgeLockRedis creates a new JudgeLockRedis instance.
func NewJudgeLockRedis(client redis.UniversalClient) *JudgeLockRedis {
	return &JudgeLockRedis{client: client}
}

// judgeLockKey はユーザーIDとセッションIDの区切りに ":" を含み得るため長さを前置します。
func judgeLockKey(userID, sessionID string) string {
	return fmt.Sprintf("%s%d:%s:%s", judgeLockPrefix, len(userID), userID, sessionID)
}

// TryLock acquires the lock for ttl. ok is false when another runner holds it.
func (l *JudgeLockRedis) TryLock(ctx context.Context, userID, sessionID string, ttl time.Duration) (func(), bool, error) {
	key := judgeLockKey(userID, sessionID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire judge lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func() {
		// 呼び出し元のctxが切れていても解放する
		if err := releaseLockScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err(); err != nil {
			slog.Warn("failed to release judge lock", "key", key, "error", err)
		}
	}
	return unlock, true, nil
}
