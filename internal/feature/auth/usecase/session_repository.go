package usecase

import (
	"context"

	"ai_memory/internal/feature/auth/domain/entity"
)

// SessionRepository はコンソールのリフレッシュセッションを保存します。
// セッションIDはリフレッシュトークン（64桁の16進数）そのものです。
// 実装は SESSION_STORE に応じて Redis（platform/session）か GORM（adapters）です。
//
// Refresh は使われたセッションを Revoke してから新しいセッションを Create します（ローテーション）。
// Login は CountByUserID が MAX_SESSIONS_PER_USER に達している間 DeleteOldestByUserID で古いものを追い出します。
type SessionRepository interface {
	// Create は発行したセッションを ExpiresAt まで保存します。
	Create(ctx context.Context, session *entity.Session) error

	// FindByID はリフレッシュトークンでセッションを引きます。失効済みも返すので、呼び出し側が
	// IsRevoked / IsExpired を確認します。存在しなければ ErrSessionNotFound です。
	FindByID(ctx context.Context, id string) (*entity.Session, error)

	// FindByUserID はオペレーターの有効な（失効も期限切れもしていない）セッションを作成日時の昇順で返します。
	FindByUserID(ctx context.Context, userID uint) ([]*entity.Session, error)

	// Revoke は RevokedAt を記録します。失効済みの記録は再利用検知のため一定期間残ります。
	Revoke(ctx context.Context, id string) error

	// RevokeAllByUserID はオペレーターの全セッションを失効させます。
	RevokeAllByUserID(ctx context.Context, userID uint) error

	// DeleteExpired は cleanup cron から呼ばれ、削除件数を返します。
	// TTLで消えるストアでは常に0です。
	DeleteExpired(ctx context.Context) (int64, error)

	// CountByUserID は有効なセッション数です。
	CountByUserID(ctx context.Context, userID uint) (int64, error)

	// DeleteOldestByUserID は最も古い有効セッションを削除します。セッションがなければ何もしません。
	DeleteOldestByUserID(ctx context.Context, userID uint) error
}
