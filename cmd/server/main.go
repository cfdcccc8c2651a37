package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ai_memory/internal/app/di"
	"ai_memory/internal/app/router"
	alertadapters "ai_memory/internal/feature/alerts/adapters"
	alerthandler "ai_memory/internal/feature/alerts/transport/handler"
	authadapters "ai_memory/internal/feature/auth/adapters"
	authhandler "ai_memory/internal/feature/auth/transport/handler"
	authusecase "ai_memory/internal/feature/auth/usecase"
	consoleentity "ai_memory/internal/feature/console/domain/entity"
	consolehandler "ai_memory/internal/feature/console/transport/handler"
	consoleusecase "ai_memory/internal/feature/console/usecase"
	memoryhandler "ai_memory/internal/feature/memory/transport/handler"
	monitoringhandler "ai_memory/internal/feature/monitoring/transport/handler"
	"ai_memory/internal/platform/config"
	"ai_memory/internal/platform/http/handler"
	jwtmw "ai_memory/internal/platform/jwt"
	"ai_memory/internal/platform/logging"
	"ai_memory/internal/platform/metrics"
	"ai_memory/internal/platform/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logCloser, err := logging.Setup(cfg.Log.Level, cfg.Log.Dir)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logCloser.Close() }()

	if err := run(cfg); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if cfg.JWT.Secret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	reg := metrics.NewRegistry()
	collector := di.NewCollector(cfg.Metrics, reg)

	// DB・Redis・LLM・ベクトルストア
	core, err := di.NewCore(ctx, cfg, di.CoreOptions{Metrics: collector, Publish: true})
	if err != nil {
		return err
	}
	defer core.Close()

	// 監視指標
	monitoring := di.NewMonitoring(cfg.Metrics, core.DB, core.Redis, collector, core.Funnel)
	if err := monitoring.Restore(ctx); err != nil {
		slog.Warn("failed to restore metrics, starting from zero", "error", err)
	}

	// アラート
	alerts, err := di.NewAlerts(ctx, cfg, core.DB, reg, alertadapters.NewMonitoringSignals(collector, core.Funnel))
	if err != nil {
		return err
	}

	// 認証
	sessions := di.NewSessionRepository(cfg.JWT.SessionStore, core.Redis, core.DB)
	authUC := authusecase.NewAuthUsecase(
		authadapters.NewUserGorm(core.DB),
		sessions,
		jwtmw.NewGenerator(cfg.JWT.Secret, cfg.JWT.AccessTTL),
		authusecase.Options{RefreshTTL: cfg.JWT.RefreshTTL, MaxSessions: cfg.JWT.MaxSessionsPerUser},
	)
	if err := authUC.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		return err
	}

	// Handler
	handlers := router.Handlers{
		Auth:       authhandler.NewAuthHandler(authUC, cfg.JWT.CookieSecure),
		Console:    consolehandler.NewConsoleHandler(consoleusecase.NewNavigator(consoleentity.RouteTable()), cfg.JWT.Secret),
		Memory:     memoryhandler.NewMemoryHandler(core.Memory),
		Staging:    memoryhandler.NewStagingHandler(core.Funnel),
		Admin:      memoryhandler.NewAdminHandler(core.Funnel, core.Maintenance),
		Monitoring: monitoringhandler.NewMonitoringHandler(monitoring, func(ctx context.Context) any { return core.Memory.Status(ctx) }),
		Alerts:     alerthandler.NewAlertHandler(alerts),
	}

	// ルータ生成
	r := router.NewRouter(handlers, router.Options{
		JWTSecret:   cfg.JWT.Secret,
		CORSOrigins: cfg.CORS,
		StaticDir:   cfg.StaticDir,
		Metrics:     reg.Handler(),
		Ready: []handler.Check{
			{Name: "postgres", Ping: func(ctx context.Context) error {
				sqlDB, err := core.DB.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			}},
			{Name: "redis", Ping: func(ctx context.Context) error { return core.Redis.Ping(ctx).Err() }},
		},
		RateLimiter:    core.Redis,
		LoginRateLimit: cfg.JWT.LoginRateLimit,
		LoginRateWin:   cfg.JWT.LoginRateWin,
	})

	// 定期ジョブ
	s := scheduler.New()
	err = di.RegisterJobs(s, cfg, di.JobSet{
		JudgeSweep: func(ctx context.Context) error { _, err := core.Funnel.Sweep(ctx); return err },
		Promotion:  func(ctx context.Context) error { _, err := core.Funnel.Promote(ctx); return err },
		Decay:      func(ctx context.Context) error { _, err := core.Maintenance.Decay(ctx); return err },
		Dedup:      func(ctx context.Context) error { _, err := core.Maintenance.Deduplicate(ctx); return err },
		Snapshot: func(ctx context.Context) error {
			if cfg.GCS.Bucket == "" {
				return nil
			}
			_, err := core.Maintenance.Snapshot(ctx)
			return err
		},
		MetricsFlush:   func(ctx context.Context) error { _, err := monitoring.Flush(ctx); return err },
		MetricsPurge:   func(ctx context.Context) error { _, err := monitoring.Purge(ctx); return err },
		AlertCheck:     func(ctx context.Context) error { _, err := alerts.Check(ctx); return err },
		SessionCleanup: func(ctx context.Context) error { _, err := authUC.CleanupSessions(ctx); return err },
	}, reg)
	if err != nil {
		return err
	}
	s.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("server listening", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	s.Stop(30 * time.Second)

	// 終了前に未保存の指標を書き出す
	if _, err := monitoring.Flush(shutdownCtx); err != nil {
		slog.Warn("failed to flush metrics on shutdown", "error", err)
	}
	slog.Info("server exited")
	return nil
}
