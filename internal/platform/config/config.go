// Package config はアプリケーション設定を環境変数から読み込みます。
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はサーバーとワーカーが共有する設定です。
type Config struct {
	Env       string   `env:"APP_ENV" envDefault:"development"`
	Port      string   `env:"PORT" envDefault:"8080"`
	StaticDir string   `env:"STATIC_DIR"`
	CORS      []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	Log       LogConfig
	JWT       JWTConfig
	DB        DBConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Memory    MemoryConfig
	Metrics   MetricsConfig
	Alert     AlertConfig
	Notify    NotifyConfig
	RabbitMQ  RabbitMQConfig
	Elastic   ElasticConfig
	GCS       GCSConfig
	Schedules ScheduleConfig
	Admin     AdminConfig
}

// LogConfig はログ出力の設定です。
type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	Dir   string `env:"LOG_DIR"`
}

// JWTConfig はアクセストークンとセッションの設定です。
type JWTConfig struct {
	Secret             string        `env:"JWT_SECRET"`
	AccessTTL          time.Duration `env:"JWT_ACCESS_TTL" envDefault:"1h"`
	RefreshTTL         time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	MaxSessionsPerUser int           `env:"MAX_SESSIONS_PER_USER" envDefault:"5"`
	CookieSecure       bool          `env:"COOKIE_SECURE" envDefault:"false"`
	// SessionStore は "redis" または "db" です。
	SessionStore   string        `env:"SESSION_STORE" envDefault:"redis"`
	LoginRateLimit int           `env:"LOGIN_RATE_LIMIT" envDefault:"10"`
	LoginRateWin   time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"1m"`
}

// DBConfig はPostgreSQL接続設定です。
type DBConfig struct {
	User          string        `env:"DB_USER" envDefault:"postgres"`
	Password      string        `env:"DB_PASSWORD"`
	Name          string        `env:"DB_NAME" envDefault:"ai_memory"`
	Host          string        `env:"DB_HOST" envDefault:"localhost"`
	Port          string        `env:"DB_PORT" envDefault:"5432"`
	SSLMode       string        `env:"DB_SSLMODE" envDefault:"disable"`
	RunMigrations bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
	ConnectWait   time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"60s"`
}

// RedisConfig はRedis接続設定です。
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     string `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr は host:port 形式のアドレスを返します。
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// LLMConfig はGemini関連の設定です。
type LLMConfig struct {
	Provider       string        `env:"LLM_PROVIDER" envDefault:"gemini"`
	JudgeModel     string        `env:"JUDGE_MODEL" envDefault:"gemini-2.5-flash"`
	ExtractModel   string        `env:"EXTRACT_TAGS_MODEL" envDefault:"gemini-2.5-pro"`
	EmbeddingModel string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-004"`
	CallsPerMinute int           `env:"LLM_CALLS_PER_MINUTE" envDefault:"60"`
	JudgeCacheTTL  time.Duration `env:"JUDGE_CACHE_TTL" envDefault:"24h"`
}

// MemoryConfig は記憶ファネル（STM→Staging→LTM）の閾値です。
type MemoryConfig struct {
	ContextWindow          int     `env:"CONTEXT_WINDOW" envDefault:"100"`
	MaxRecentMemories      int     `env:"MAX_RECENT_MEMORIES" envDefault:"100"`
	STMExpirationDays      int     `env:"STM_EXPIRATION_DAYS" envDefault:"7"`
	STMBatchJudgeSize      int     `env:"STM_BATCH_JUDGE_SIZE" envDefault:"10"`
	STMJudgeMinMessages    int     `env:"STM_JUDGE_MIN_MESSAGES" envDefault:"5"`
	STMJudgeMaxWaitMinutes int     `env:"STM_JUDGE_MAX_WAIT_MINUTES" envDefault:"60"`
	StagingMinOccurrences  int     `env:"STAGING_MIN_OCCURRENCES" envDefault:"2"`
	StagingMinWaitHours    int     `env:"STAGING_MIN_WAIT_HOURS" envDefault:"48"`
	StagingValueThreshold  float64 `env:"STAGING_VALUE_THRESHOLD" envDefault:"0.6"`
	StagingConfidenceHigh  float64 `env:"STAGING_CONFIDENCE_HIGH" envDefault:"0.8"`
	StagingConfidenceLow   float64 `env:"STAGING_CONFIDENCE_LOW" envDefault:"0.5"`
	StagingTTLDays         int     `env:"STAGING_TTL_DAYS" envDefault:"30"`
	DecayHalfLifeDays      int     `env:"LTM_DECAY_HALF_LIFE_DAYS" envDefault:"90"`
	DecayMinScore          float64 `env:"LTM_DECAY_MIN_SCORE" envDefault:"0.3"`
	VectorStorePath        string  `env:"VECTOR_STORE_PATH" envDefault:"data/ltm.json"`
}

// MetricsConfig は監視指標の永続化設定です。
type MetricsConfig struct {
	PersistInterval   time.Duration `env:"METRICS_PERSIST_INTERVAL" envDefault:"1m"`
	MemoryRetention   time.Duration `env:"METRICS_MEMORY_RETENTION" envDefault:"24h"`
	DBRetentionDays   int           `env:"METRICS_DB_RETENTION_DAYS" envDefault:"30"`
	DashboardCacheTTL time.Duration `env:"DASHBOARD_CACHE_TTL" envDefault:"30s"`
}

// AlertConfig はアラートエンジンの既定値です。
type AlertConfig struct {
	CheckInterval         time.Duration `env:"ALERT_CHECK_INTERVAL" envDefault:"1m"`
	QueueBacklogThreshold int           `env:"ALERT_QUEUE_BACKLOG_THRESHOLD" envDefault:"100"`
	QueueBacklogCooldown  time.Duration `env:"ALERT_QUEUE_BACKLOG_COOLDOWN" envDefault:"10m"`
	SuccessRateThreshold  float64       `env:"ALERT_SUCCESS_RATE_THRESHOLD" envDefault:"60"`
	SuccessRateCooldown   time.Duration `env:"ALERT_SUCCESS_RATE_COOLDOWN" envDefault:"30m"`
	CacheHitRateThreshold float64       `env:"ALERT_CACHE_HIT_RATE_THRESHOLD" envDefault:"20"`
	CacheHitRateCooldown  time.Duration `env:"ALERT_CACHE_HIT_RATE_COOLDOWN" envDefault:"15m"`
	CacheMinSamples       int           `env:"ALERT_CACHE_MIN_SAMPLES" envDefault:"50"`
	DecaySpikeThreshold   int           `env:"ALERT_DECAY_SPIKE_THRESHOLD" envDefault:"1000"`
	DecaySpikeCooldown    time.Duration `env:"ALERT_DECAY_SPIKE_COOLDOWN" envDefault:"60m"`
	HistoryMaxSize        int           `env:"ALERT_HISTORY_MAX_SIZE" envDefault:"100"`
}

// NotifyConfig はアラート通知チャネルの設定です。
type NotifyConfig struct {
	Levels         []string      `env:"ALERT_NOTIFY_LEVELS" envSeparator:"," envDefault:"ERROR,WARNING"`
	WebhookURL     string        `env:"ALERT_WEBHOOK_URL"`
	WebhookTimeout time.Duration `env:"ALERT_WEBHOOK_TIMEOUT" envDefault:"5s"`
	MailgunDomain  string        `env:"MAILGUN_DOMAIN"`
	MailgunAPIKey  string        `env:"MAILGUN_API_KEY"`
	MailgunSender  string        `env:"MAILGUN_SENDER"`
	EmailTo        []string      `env:"ALERT_EMAIL_TO" envSeparator:","`
}

// RabbitMQConfig は判定ジョブキューの設定です。
type RabbitMQConfig struct {
	URL        string `env:"RABBITMQ_URL"`
	JudgeQueue string `env:"RABBITMQ_JUDGE_QUEUE" envDefault:"memory.judge"`
	Prefetch   int    `env:"RABBITMQ_PREFETCH" envDefault:"8"`
}

// ElasticConfig はLTMベクトルストア（Elasticsearch）の設定です。
type ElasticConfig struct {
	Addresses []string `env:"ELASTICSEARCH_ADDRESSES" envSeparator:","`
	Username  string   `env:"ELASTICSEARCH_USERNAME"`
	Password  string   `env:"ELASTICSEARCH_PASSWORD"`
	Index     string   `env:"ELASTICSEARCH_LTM_INDEX" envDefault:"ltm_memories"`
	Dims      int      `env:"EMBEDDING_DIMS" envDefault:"768"`
}

// GCSConfig はLTMスナップショットのアップロード先です。
type GCSConfig struct {
	Bucket          string `env:"GCS_BUCKET"`
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
	Prefix          string `env:"GCS_SNAPSHOT_PREFIX" envDefault:"snapshots/ltm"`
}

// ScheduleConfig はcronジョブのスケジュールです。空文字のジョブは登録されません。
type ScheduleConfig struct {
	JudgeSweep     string `env:"SCHEDULE_JUDGE_SWEEP" envDefault:"@every 10m"`
	Promotion      string `env:"SCHEDULE_PROMOTION" envDefault:"@every 24h"`
	Decay          string `env:"SCHEDULE_DECAY" envDefault:"@daily"`
	Dedup          string `env:"SCHEDULE_DEDUP" envDefault:"@weekly"`
	Snapshot       string `env:"SCHEDULE_SNAPSHOT" envDefault:"@daily"`
	SessionCleanup string `env:"SCHEDULE_SESSION_CLEANUP" envDefault:"@hourly"`
}

// AdminConfig は初期管理者アカウントです。
type AdminConfig struct {
	Username string `env:"ADMIN_USERNAME" envDefault:"admin"`
	Password string `env:"ADMIN_PASSWORD"`
}

// Load は .env（存在すれば）と環境変数から設定を読み込みます。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env not found; using process environment")
	}
	return Parse()
}

// Parse は現在の環境変数のみから設定を構築します。
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Memory.STMBatchJudgeSize <= 0 {
		return fmt.Errorf("STM_BATCH_JUDGE_SIZE must be positive")
	}
	if c.Memory.DecayHalfLifeDays <= 0 {
		return fmt.Errorf("LTM_DECAY_HALF_LIFE_DAYS must be positive")
	}
	if c.Memory.StagingConfidenceLow > c.Memory.StagingConfidenceHigh {
		return fmt.Errorf("STAGING_CONFIDENCE_LOW must not exceed STAGING_CONFIDENCE_HIGH")
	}
	return nil
}

// IsProduction は本番環境かどうかを返します。
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
