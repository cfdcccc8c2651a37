// Package usecase はauthフィーチャーのビジネスロジックを実装します。
package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ai_memory/internal/feature/auth/domain/entity"

	"golang.org/x/crypto/bcrypt"
)

const (
	// minPasswordLength はパスワードの最低文字数を定義します。
	minPasswordLength = 8

	// dummyHash はユーザー不在時にもbcrypt比較を行うためのハッシュです。
	dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

// UserRepository はオペレーターエンティティの永続化層を抽象化します。
// Goの慣例に従い、インターフェースはプロバイダー（adapters）ではなくコンシューマー（usecase）が定義します。
type UserRepository interface {
	// Create は新しいオペレーターを永続化します。
	// 同じユーザー名が既に存在する場合、ErrUsernameTakenを返します。
	Create(ctx context.Context, user *entity.User) error

	// FindByUsername はユーザー名に一致するオペレーターを取得します。
	FindByUsername(ctx context.Context, username string) (*entity.User, error)

	// FindByID は指定されたIDに一致するオペレーターを取得します。
	FindByID(ctx context.Context, id uint) (*entity.User, error)

	// Count は登録済みオペレーター数を返します。
	Count(ctx context.Context) (int64, error)
}

// JWTGenerator はJWTトークン生成のインターフェースを定義します。
// Goの慣例に従い、インターフェースはプロバイダー（platform/jwt）ではなくコンシューマー（usecase）が定義します。
type JWTGenerator interface {
	// GenerateToken は指定されたオペレーターの署名済みJWTトークンを生成します。
	GenerateToken(userID uint, username string) (string, error)
	// TTL はアクセストークンの有効期間を返します。
	TTL() time.Duration
}

// Options はセッション管理のパラメーターです。
type Options struct {
	RefreshTTL  time.Duration
	MaxSessions int
}

// authUsecase は認証ビジネスロジックを実装します。
type authUsecase struct {
	users        UserRepository
	sessions     SessionRepository
	jwtGenerator JWTGenerator
	opts         Options
	now          func() time.Time
}

// NewAuthUsecase はauthUsecaseの新しいインスタンスを生成します。
func NewAuthUsecase(users UserRepository, sessions SessionRepository, jwtGenerator JWTGenerator, opts Options) *authUsecase {
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 5
	}
	return &authUsecase{
		users:        users,
		sessions:     sessions,
		jwtGenerator: jwtGenerator,
		opts:         opts,
		now:          time.Now,
	}
}

// validatePassword はパスワードがセキュリティ要件を満たしているかチェックします。
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters long", ErrWeakPassword, minPasswordLength)
	}
	return nil
}

// Signup はハッシュ化されたパスワードで新規オペレーターを登録します。
func (u *authUsecase) Signup(ctx context.Context, username, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user := &entity.User{Username: username, Password: string(hashed)}
	return u.users.Create(ctx, user)
}

// EnsureAdmin はオペレーターが一人もいない場合に初期管理者を作成します。
// パスワードが空の場合は何もしません。
func (u *authUsecase) EnsureAdmin(ctx context.Context, username, password string) error {
	if password == "" {
		return nil
	}
	n, err := u.users.Count(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return nil
	}
	if err := u.Signup(ctx, username, password); err != nil && !errors.Is(err, ErrUsernameTaken) {
		return err
	}
	slog.Info("seeded admin operator", "username", username)
	return nil
}

// Login はオペレーターを認証し、アクセストークンとリフレッシュトークンを返します。
// タイミング攻撃を防止するため、オペレーターが存在しない場合でもbcrypt比較を実行します。
func (u *authUsecase) Login(ctx context.Context, username, password string, meta entity.SessionMeta) (*entity.TokenPair, error) {
	user, err := u.users.FindByUsername(ctx, username)

	passwordHash := dummyHash
	if err == nil {
		passwordHash = user.Password
	}

	// 第1引数はハッシュ化パスワード、第2引数は平文パスワード
	compareErr := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password))

	if err != nil || compareErr != nil {
		return nil, ErrInvalidCredentials
	}

	if err := u.enforceSessionLimit(ctx, user.ID); err != nil {
		return nil, err
	}
	return u.issue(ctx, user, meta)
}

// Refresh はリフレッシュトークンをローテーションし、新しいトークンの組を返します。
func (u *authUsecase) Refresh(ctx context.Context, refreshToken string, meta entity.SessionMeta) (*entity.TokenPair, error) {
	if len(refreshToken) != 64 {
		return nil, ErrInvalidRefreshToken
	}
	session, err := u.sessions.FindByID(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if session.IsRevoked() {
		return nil, ErrSessionRevoked
	}
	if session.IsExpired() {
		return nil, ErrSessionExpired
	}

	user, err := u.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if err := u.sessions.Revoke(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("revoke session: %w", err)
	}
	return u.issue(ctx, user, meta)
}

// Logout はリフレッシュセッションを失効させます。
func (u *authUsecase) Logout(ctx context.Context, refreshToken string) error {
	if len(refreshToken) != 64 {
		return ErrInvalidRefreshToken
	}
	return u.sessions.Revoke(ctx, refreshToken)
}

// Me はログイン中のオペレーターを返します。
func (u *authUsecase) Me(ctx context.Context, userID uint) (*entity.User, error) {
	return u.users.FindByID(ctx, userID)
}

// CleanupSessions は期限切れセッションを削除します。
func (u *authUsecase) CleanupSessions(ctx context.Context) (int64, error) {
	return u.sessions.DeleteExpired(ctx)
}

// enforceSessionLimit は上限に達している場合、古いセッションから削除します。
func (u *authUsecase) enforceSessionLimit(ctx context.Context, userID uint) error {
	count, err := u.sessions.CountByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("count sessions: %w", err)
	}
	for ; count >= int64(u.opts.MaxSessions); count-- {
		if err := u.sessions.DeleteOldestByUserID(ctx, userID); err != nil {
			return fmt.Errorf("evict session: %w", err)
		}
	}
	return nil
}

func (u *authUsecase) issue(ctx context.Context, user *entity.User, meta entity.SessionMeta) (*entity.TokenPair, error) {
	token, err := u.jwtGenerator.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	refresh, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	now := u.now()
	session := &entity.Session{
		ID:        refresh,
		UserID:    user.ID,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		CreatedAt: now,
		ExpiresAt: now.Add(u.opts.RefreshTTL),
	}
	if err := u.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &entity.TokenPair{
		AccessToken:  token,
		RefreshToken: refresh,
		ExpiresIn:    u.jwtGenerator.TTL(),
	}, nil
}

// newRefreshToken は32バイトの乱数を16進数で返します。
func newRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
