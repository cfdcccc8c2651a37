// Package di はアプリケーションの各コンポーネントを組み立てるファクトリーを提供します。
package di

import (
	"strings"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	authadapters "ai_memory/internal/feature/auth/adapters"
	"ai_memory/internal/feature/auth/usecase"
	"ai_memory/internal/platform/session"
)

// NewSessionRepository はSessionRepositoryの実装を返します。
// store が "db" の場合、またはRedisが無い場合はPostgreSQLを使います。
func NewSessionRepository(store string, rdb redis.UniversalClient, db *gorm.DB) usecase.SessionRepository {
	if rdb != nil && !strings.EqualFold(store, "db") {
		return session.NewSessionRedis(rdb, "session")
	}
	return authadapters.NewSessionGorm(db)
}
