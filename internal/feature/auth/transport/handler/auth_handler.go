// Package handler はauthフィーチャーのHTTPハンドラーを提供します。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ai_memory/internal/api"
	"ai_memory/internal/feature/auth/domain/entity"
	"ai_memory/internal/feature/auth/usecase"
	jwtmw "ai_memory/internal/platform/jwt"
)

// AuthUsecase は認証操作のユースケースを定義します。
// Goの慣例に従い、インターフェースはプロバイダー（usecase）ではなくコンシューマー（handler）が定義します。
type AuthUsecase interface {
	Signup(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string, meta entity.SessionMeta) (*entity.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, meta entity.SessionMeta) (*entity.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, userID uint) (*entity.User, error)
}

// AuthHandler は認証操作のHTTPリクエストを処理します。
type AuthHandler struct {
	auth         AuthUsecase
	secureCookie bool
}

// NewAuthHandler はAuthHandlerの新しいインスタンスを生成します。
// secureCookie が true の場合、アクセストークンCookieにSecure属性を付与します。
func NewAuthHandler(auth AuthUsecase, secureCookie bool) *AuthHandler {
	return &AuthHandler{auth: auth, secureCookie: secureCookie}
}

func sessionMeta(c *gin.Context) entity.SessionMeta {
	return entity.SessionMeta{UserAgent: c.Request.UserAgent(), IPAddress: c.ClientIP()}
}

func (h *AuthHandler) setTokenCookie(c *gin.Context, token string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(jwtmw.CookieName, token, int(ttl.Seconds()), "/", "", h.secureCookie, true)
}

func writeTokens(c *gin.Context, pair *entity.TokenPair) {
	c.JSON(http.StatusOK, api.TokenResponse{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
	})
}

// Signup は別のオペレーターを作成します（認証済みオペレーターのみ）。
// - バリデーションエラー時は400
// - ユーザー名重複時は409
// - 成功時は201
func (h *AuthHandler) Signup(c *gin.Context) {
	var req api.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("signup validation failed", "error", err, "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request"})
		return
	}
	if err := h.auth.Signup(c.Request.Context(), req.Username, req.Password); err != nil {
		slog.Warn("signup failed", "error", err, "username", req.Username, "remote_addr", c.ClientIP())
		switch {
		case errors.Is(err, usecase.ErrUsernameTaken):
			c.JSON(http.StatusConflict, api.ErrorResponse{Error: "signup failed"})
		case errors.Is(err, usecase.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request"})
		default:
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "signup failed"})
		}
		return
	}
	slog.Info("operator created", "username", req.Username, "by", c.GetString(jwtmw.ContextUsername))
	c.JSON(http.StatusCreated, api.MessageResponse{Message: "ok"})
}

// Login はログインAPIエンドポイントを処理します。
// 成功時はトークンを返し、同じアクセストークンをHttpOnly Cookieにも設定します。
func (h *AuthHandler) Login(c *gin.Context) {
	var req api.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("login validation failed", "error", err, "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request"})
		return
	}
	pair, err := h.auth.Login(c.Request.Context(), req.Username, req.Password, sessionMeta(c))
	if err != nil {
		// ユーザー列挙攻撃を防止するため、実際のエラーを公開しない
		slog.Warn("login failed", "error", err, "username", req.Username, "remote_addr", c.ClientIP())
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: usecase.ErrInvalidCredentials.Error()})
		return
	}
	slog.Info("operator login successful", "username", req.Username, "remote_addr", c.ClientIP())
	h.setTokenCookie(c, pair.AccessToken, pair.ExpiresIn)
	writeTokens(c, pair)
}

// Refresh はリフレッシュトークンをローテーションします。
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req api.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request"})
		return
	}
	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken, sessionMeta(c))
	if err != nil {
		slog.Warn("token refresh failed", "error", err, "remote_addr", c.ClientIP())
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "invalid refresh token"})
		return
	}
	h.setTokenCookie(c, pair.AccessToken, pair.ExpiresIn)
	writeTokens(c, pair)
}

// Logout はセッションを失効させ、Cookieを削除します。
// 不明なトークンでも200を返します。
func (h *AuthHandler) Logout(c *gin.Context) {
	var req api.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request"})
		return
	}
	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil &&
		!errors.Is(err, usecase.ErrSessionNotFound) && !errors.Is(err, usecase.ErrInvalidRefreshToken) {
		slog.Error("logout failed", "error", err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "logout failed"})
		return
	}
	h.setTokenCookie(c, "", -time.Second)
	c.JSON(http.StatusOK, api.MessageResponse{Message: "ok"})
}

// Me はログイン中のオペレーター情報を返します。
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.auth.Me(c.Request.Context(), c.GetUint(jwtmw.ContextUserID))
	if err != nil {
		if errors.Is(err, usecase.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "unknown operator"})
			return
		}
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(http.StatusOK, user)
}
