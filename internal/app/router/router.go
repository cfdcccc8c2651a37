// Package router はHTTPルーティングを一箇所で定義します。
package router

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"ai_memory/internal/api"
	alerthandler "ai_memory/internal/feature/alerts/transport/handler"
	authhandler "ai_memory/internal/feature/auth/transport/handler"
	consolehandler "ai_memory/internal/feature/console/transport/handler"
	memoryhandler "ai_memory/internal/feature/memory/transport/handler"
	monitoringhandler "ai_memory/internal/feature/monitoring/transport/handler"
	"ai_memory/internal/platform/http/handler"
	"ai_memory/internal/platform/http/middleware"
	jwtmw "ai_memory/internal/platform/jwt"
)

// Handlers は各機能のハンドラーです。
type Handlers struct {
	Auth       *authhandler.AuthHandler
	Console    *consolehandler.ConsoleHandler
	Memory     *memoryhandler.MemoryHandler
	Staging    *memoryhandler.StagingHandler
	Admin      *memoryhandler.AdminHandler
	Monitoring *monitoringhandler.MonitoringHandler
	Alerts     *alerthandler.AlertHandler
}

// Options はルーター全体の設定です。
type Options struct {
	JWTSecret   string
	CORSOrigins []string
	// StaticDir が空でなければSPAを配信します。
	StaticDir string
	// Metrics は /metrics のハンドラーです。nil なら公開しません。
	Metrics http.Handler
	Ready   []handler.Check
	// RateLimiter はログインのレート制限に使います。nil なら制限しません。
	RateLimiter    redis.Scripter
	LoginRateLimit int
	LoginRateWin   time.Duration
}

func NewRouter(h Handlers, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog("/healthz", "/readyz", "/metrics"))
	r.Use(middleware.CORS(opts.CORSOrigins))

	// 認証不要
	// 導通確認用
	r.GET("/healthz", handler.Health)
	r.HEAD("/healthz", handler.Health)
	r.OPTIONS("/healthz", handler.Health)
	r.GET("/readyz", handler.Ready(opts.Ready...))
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	pub := r.Group("/api")
	{
		loginLimit := middleware.RateLimit(opts.RateLimiter, opts.LoginRateLimit, opts.LoginRateWin, middleware.KeyByIPAndPath("ratelimit"))
		pub.POST("/login", loginLimit, h.Auth.Login)
		pub.POST("/refresh", h.Auth.Refresh)
		pub.POST("/logout", h.Auth.Logout)

		pub.GET("/console/routes", h.Console.Routes)
		pub.GET("/console/navigate", h.Console.Navigate)
		pub.GET("/console/locale", h.Console.GetLocale)
		pub.PUT("/console/locale", h.Console.SetLocale)

		// エージェントからの書き込みと想起
		pub.POST("/memories", h.Memory.Add)
		pub.POST("/retrieve", h.Memory.Retrieve)
	}

	// 認証必須のルート
	auth := r.Group("/api")
	auth.Use(jwtmw.AuthRequired(opts.JWTSecret))
	{
		auth.POST("/signup", h.Auth.Signup)
		auth.GET("/me", h.Auth.Me)

		auth.GET("/memories", h.Memory.List)
		auth.PUT("/memories/:id", h.Memory.Update)
		auth.DELETE("/memories/:id", h.Memory.Delete)
		auth.DELETE("/sessions/:user_id/:session_id", h.Memory.ClearSession)
		auth.GET("/users", h.Memory.Users)
		auth.GET("/status", h.Memory.Status)

		auth.GET("/staging", h.Staging.List)
		auth.GET("/staging/stats", h.Staging.Stats)
		auth.POST("/staging/:id/confirm", h.Staging.Confirm)
		auth.POST("/staging/:id/reject", h.Staging.Reject)

		auth.POST("/admin/trigger-judge", h.Admin.TriggerJudge)
		auth.POST("/admin/trigger-promotion", h.Admin.TriggerPromotion)
		auth.POST("/admin/trigger-decay", h.Admin.TriggerDecay)
		auth.POST("/admin/trigger-dedup", h.Admin.TriggerDedup)
		auth.POST("/admin/trigger-snapshot", h.Admin.TriggerSnapshot)

		auth.GET("/metrics", h.Monitoring.Metrics)
		auth.GET("/dashboard/metrics", h.Monitoring.Dashboard)

		auth.GET("/alerts", h.Alerts.List)
		auth.POST("/alerts", h.Alerts.Create)
		auth.GET("/alerts/recent", h.Alerts.Recent)
		auth.POST("/alerts/check", h.Alerts.Check)
		auth.DELETE("/alerts/:id", h.Alerts.Delete)
		auth.GET("/alerts/rules", h.Alerts.Rules)
		auth.PUT("/alerts/rules/:id/toggle", h.Alerts.ToggleRule)
		auth.PUT("/alerts/rules/:id/cooldown", h.Alerts.UpdateCooldown)
		auth.PUT("/alerts/rules/:id/config", h.Alerts.UpdateConfig)
		auth.GET("/alerts/stats", h.Alerts.Stats)
		auth.GET("/alerts/trend", h.Alerts.Trend)
		auth.GET("/alerts/aggregated", h.Alerts.Aggregated)
	}

	if opts.StaticDir != "" {
		// 登録済みのルートには掛からず、NoRoute（SPAのページ）にだけ適用される
		r.Use(h.Console.PageGuard())
		r.NoRoute(spa(opts.StaticDir))
	} else {
		r.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "not found"})
		})
	}
	return r
}

// spa は dir 内のファイルを返し、存在しない非APIパスには index.html を返します。
func spa(dir string) gin.HandlerFunc {
	index := filepath.Join(dir, "index.html")
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/api/") || (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "not found"})
			return
		}
		file := filepath.Join(dir, filepath.Clean("/"+p))
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			c.File(file)
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.File(index)
	}
}
