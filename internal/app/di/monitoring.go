package di

import (
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	monadapters "ai_memory/internal/feature/monitoring/adapters"
	monusecase "ai_memory/internal/feature/monitoring/usecase"
	"ai_memory/internal/platform/config"
	"ai_memory/internal/platform/metrics"
)

// NewCollector はPrometheusに反映する指標収集器を生成します。
func NewCollector(cfg config.MetricsConfig, reg *metrics.Registry) *monusecase.Collector {
	return monusecase.NewCollector(cfg.MemoryRetention, monadapters.NewPrometheusMirror(reg))
}

// NewMonitoring は時系列点のRedisキャッシュ付きリポジトリでMonitoringUsecaseを組み立てます。
// rdb が nil の場合はキャッシュしません。
func NewMonitoring(cfg config.MetricsConfig, db *gorm.DB, rdb redis.UniversalClient,
	collector *monusecase.Collector, queue monusecase.QueueSource) *monusecase.MonitoringUsecase {
	var repo monusecase.PointRepository = monadapters.NewPointGorm(db)
	if rdb != nil {
		repo = monadapters.NewCachingPointRepository(rdb, cfg.DashboardCacheTTL, repo, "metrics")
	}
	return monusecase.NewMonitoringUsecase(collector, repo, queue, monusecase.Config{
		MemoryRetention: cfg.MemoryRetention,
		DBRetention:     time.Duration(cfg.DBRetentionDays) * 24 * time.Hour,
	})
}
