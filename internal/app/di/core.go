package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	alertadapters "ai_memory/internal/feature/alerts/adapters"
	authadapters "ai_memory/internal/feature/auth/adapters"
	authentity "ai_memory/internal/feature/auth/domain/entity"
	memadapters "ai_memory/internal/feature/memory/adapters"
	memusecase "ai_memory/internal/feature/memory/usecase"
	monadapters "ai_memory/internal/feature/monitoring/adapters"
	"ai_memory/internal/platform/config"
	platformdb "ai_memory/internal/platform/db"
	"ai_memory/internal/platform/elastic"
	"ai_memory/internal/platform/genai"
	"ai_memory/internal/platform/mq"
	platformredis "ai_memory/internal/platform/redis"
	"ai_memory/internal/platform/storage"
	"ai_memory/internal/shared/ratelimiter"
)

// Models はAutoMigrateの対象です。
func Models() []any {
	return []any{
		&authentity.User{},
		&authadapters.SessionModel{},
		&memadapters.EndUserModel{},
		&monadapters.MetricPointModel{},
		&monadapters.MetricTotalsModel{},
		&alertadapters.AlertModel{},
		&alertadapters.AlertRuleConfigModel{},
	}
}

// MemoryConfig は環境設定をファネルの閾値に変換します。
func MemoryConfig(c config.MemoryConfig) memusecase.Config {
	return memusecase.Config{
		ContextWindow:         c.ContextWindow,
		MaxRecentMemories:     c.MaxRecentMemories,
		STMExpiration:         time.Duration(c.STMExpirationDays) * 24 * time.Hour,
		JudgeBatchSize:        c.STMBatchJudgeSize,
		JudgeMinMessages:      c.STMJudgeMinMessages,
		JudgeMaxWait:          time.Duration(c.STMJudgeMaxWaitMinutes) * time.Minute,
		StagingMinOccurrences: c.StagingMinOccurrences,
		StagingMinWait:        time.Duration(c.StagingMinWaitHours) * time.Hour,
		StagingValueThreshold: c.StagingValueThreshold,
		ConfidenceHigh:        c.StagingConfidenceHigh,
		ConfidenceLow:         c.StagingConfidenceLow,
		DecayHalfLifeDays:     c.DecayHalfLifeDays,
		DecayMinScore:         c.DecayMinScore,
	}
}

// Core はサーバー・ワーカー・運用コマンドが共有する記憶ファネルの依存関係です。
type Core struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       *redis.Client
	Stores      memusecase.Stores
	Funnel      *memusecase.FunnelUsecase
	Maintenance *memusecase.MaintenanceUsecase
	Memory      *memusecase.MemoryUsecase
	Publisher   *mq.Publisher

	closers []func() error
}

// CoreOptions はNewCoreの任意設定です。
type CoreOptions struct {
	// Metrics はファネルの指標の記録先です。nil なら記録しません。
	Metrics memusecase.MetricsRecorder
	// Publish が true でRabbitMQが設定されていれば、判定ジョブを非同期化します。
	Publish bool
}

// NewCore はDB・Redis・LLM・ベクトルストアに接続し、記憶のユースケースを組み立てます。
func NewCore(ctx context.Context, cfg *config.Config, opts CoreOptions) (*Core, error) {
	c := &Core{Config: cfg}

	db, err := platformdb.Open(cfg.DB, Models()...)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	c.DB = db
	if sqlDB, err := db.DB(); err == nil {
		c.closers = append(c.closers, sqlDB.Close)
	}

	rdb, err := platformredis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	c.Redis = rdb
	c.closers = append(c.closers, rdb.Close)

	llm, err := genai.NewClient(ctx, genai.Options{
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Dims:           cfg.Elastic.Dims,
		Limiter:        ratelimiter.NewRateLimiter(cfg.LLM.CallsPerMinute, time.Minute),
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	vectors, err := NewVectorStore(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Stores = memusecase.Stores{
		STM:     memadapters.NewSTMRedis(rdb),
		Staging: memadapters.NewStagingRedis(rdb, time.Duration(cfg.Memory.StagingTTLDays)*24*time.Hour),
		Vectors: vectors,
		Users:   memadapters.NewEndUserGorm(db),
	}
	judge := memadapters.NewGeminiJudge(llm, cfg.LLM.JudgeModel, cfg.LLM.ExtractModel)
	judgeCache := memadapters.NewJudgeCacheRedis(rdb, cfg.LLM.JudgeCacheTTL)
	memCfg := MemoryConfig(cfg.Memory)

	uploader, closeUploader, err := NewSnapshotUploader(ctx, cfg.GCS)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.closers = append(c.closers, closeUploader)

	c.Funnel = memusecase.NewFunnelUsecase(c.Stores, judge, llm, judgeCache, opts.Metrics, memCfg)
	c.Funnel.SetLocker(memadapters.NewJudgeLockRedis(rdb))
	c.Maintenance = memusecase.NewMaintenanceUsecase(c.Stores, judge, llm, opts.Metrics, uploader, cfg.GCS.Prefix, memCfg)
	c.Memory = memusecase.NewMemoryUsecase(c.Stores, llm, memCfg)

	if opts.Publish && cfg.RabbitMQ.URL != "" {
		p, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.JudgeQueue)
		if err != nil {
			slog.Warn("RabbitMQ unavailable, judge jobs run inline", "error", err)
		} else {
			c.Publisher = p
			c.Funnel.SetPublisher(p)
			c.closers = append(c.closers, func() error { p.Close(); return nil })
		}
	}
	return c, nil
}

// NewVectorStore はElasticsearchが設定されていればそれを、なければJSONファイル永続のメモリストアを返します。
func NewVectorStore(ctx context.Context, cfg *config.Config) (memusecase.VectorStore, error) {
	if len(cfg.Elastic.Addresses) == 0 {
		slog.Info("using in-memory vector store", "path", cfg.Memory.VectorStorePath)
		return memadapters.NewVectorInMemory(cfg.Memory.VectorStorePath)
	}
	es, err := elastic.NewClient(cfg.Elastic)
	if err != nil {
		return nil, err
	}
	return memadapters.NewVectorElastic(ctx, es, cfg.Elastic.Index, cfg.Elastic.Dims)
}

// NewSnapshotUploader はGCSのアップローダーを返します。バケット未設定なら nil です。
func NewSnapshotUploader(ctx context.Context, cfg config.GCSConfig) (memusecase.SnapshotUploader, func() error, error) {
	noop := func() error { return nil }
	if cfg.Bucket == "" {
		return nil, noop, nil
	}
	client, err := storage.NewGCSClient(ctx, cfg.CredentialsFile)
	if err != nil {
		return nil, noop, fmt.Errorf("create gcs client: %w", err)
	}
	u := storage.NewUploader(client, cfg.Bucket)
	return u, u.Close, nil
}

// Close は開いた接続を逆順に閉じます。
func (c *Core) Close() {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("failed to close resources", "error", err)
	}
	c.closers = nil
}
