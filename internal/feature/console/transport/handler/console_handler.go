// Package handler はコンソールのルート表・ナビゲーション・ロケールのHTTPハンドラーを提供します。
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ai_memory/internal/api"
	"ai_memory/internal/feature/console/domain/entity"
	"ai_memory/internal/feature/console/usecase"
	"ai_memory/internal/platform/i18n"
	jwtmw "ai_memory/internal/platform/jwt"
)

// Navigator はルート表とナビゲーション解決を提供します。
type Navigator interface {
	Routes() []entity.Route
	Resolve(path string, authenticated bool) (*entity.Resolution, error)
}

// ConsoleHandler はコンソールシェル向けのHTTPリクエストを処理します。
type ConsoleHandler struct {
	nav    Navigator
	secret string
}

// NewConsoleHandler はConsoleHandlerの新しいインスタンスを生成します。
// secret はアクセストークンの検証に使うJWTシークレットです。
func NewConsoleHandler(nav Navigator, secret string) *ConsoleHandler {
	return &ConsoleHandler{nav: nav, secret: secret}
}

// LocaleRequest は PUT /api/console/locale のリクエストボディです。
type LocaleRequest struct {
	Locale string `json:"locale" binding:"required"`
}

// LocaleResponse は現在のロケールと対応ロケールです。
type LocaleResponse struct {
	Locale    string   `json:"locale"`
	Supported []string `json:"supported"`
}

// Routes はルート表を返します。
func (h *ConsoleHandler) Routes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"routes": h.nav.Routes()})
}

// Navigate は呼び出し元の認証状態で path の遷移先を解決します。
func (h *ConsoleHandler) Navigate(c *gin.Context) {
	p, err := api.QueryString(c.Request.URL.Query(), "path")
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	res, err := h.nav.Resolve(p, jwtmw.Authenticated(c, h.secret))
	if err != nil {
		if errors.Is(err, usecase.ErrRouteNotFound) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{Error: err.Error()})
			return
		}
		slog.Warn("navigation failed", "error", err, "path", p)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetLocale は現在のロケールを返します。
func (h *ConsoleHandler) GetLocale(c *gin.Context) {
	c.JSON(http.StatusOK, LocaleResponse{Locale: i18n.Resolve(c.Request), Supported: i18n.Supported()})
}

// SetLocale はロケールを検証してCookieに保存します。
func (h *ConsoleHandler) SetLocale(c *gin.Context) {
	var req LocaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request"})
		return
	}
	code, ok := i18n.Parse(req.Locale)
	if !ok {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "unsupported locale"})
		return
	}
	i18n.SetCookie(c.Writer, code)
	c.JSON(http.StatusOK, LocaleResponse{Locale: code, Supported: i18n.Supported()})
}

// PageGuard はSPAのページパスへのGETとHEADをルート表で解決し、
// 遷移先が異なる場合は302でリダイレクトします。/api 配下と未知のパスは素通しします。
func (h *ConsoleHandler) PageGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if (method != http.MethodGet && method != http.MethodHead) || strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Next()
			return
		}
		requested := usecase.Normalize(c.Request.URL.Path)
		res, err := h.nav.Resolve(requested, jwtmw.Authenticated(c, h.secret))
		if err != nil {
			c.Next()
			return
		}
		if res.Path != requested {
			c.Redirect(http.StatusFound, res.Path)
			c.Abort()
			return
		}
		c.Next()
	}
}
