package usecase

import (
	"context"
	"time"

	"ai_memory/internal/feature/alerts/domain/entity"
)

// AlertRepository はアラートを永続化します。
type AlertRepository interface {
	Save(ctx context.Context, a entity.Alert) error
	// Query は新しい順に返し、条件に一致する総件数も返します。
	Query(ctx context.Context, q entity.Query) ([]entity.Alert, int64, error)
	Since(ctx context.Context, t time.Time) ([]entity.Alert, error)
	CountByLevel(ctx context.Context) (map[entity.Level]int64, error)
	// Delete は存在しない場合 ErrAlertNotFound を返します。
	Delete(ctx context.Context, id string) error
}

// RuleConfigRepository はルール設定を永続化します。
type RuleConfigRepository interface {
	// Seed は未登録のルールだけを挿入します。既存の設定は変更しません。
	Seed(ctx context.Context, defaults []entity.RuleConfig) error
	List(ctx context.Context) ([]entity.RuleConfig, error)
	Save(ctx context.Context, c entity.RuleConfig) error
}

// SignalSource はルール評価に使う指標を返します。
type SignalSource interface {
	Signals(ctx context.Context) (entity.Signals, error)
}

// Notifier はアラートを外部に通知します。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a entity.Alert) error
}

// AlertMetrics はアラートの発火と通知結果を指標に記録します。
type AlertMetrics interface {
	AlertFired(rule string, level entity.Level)
	Notified(channel string, ok bool)
}

// Config はルールの既定値と履歴・通知の設定です。
type Config struct {
	QueueBacklogThreshold int
	QueueBacklogCooldown  time.Duration
	SuccessRateThreshold  float64
	SuccessRateCooldown   time.Duration
	CacheHitRateThreshold float64
	CacheHitRateCooldown  time.Duration
	CacheMinSamples       int
	DecaySpikeThreshold   int
	DecaySpikeCooldown    time.Duration

	HistoryMaxSize int
	NotifyLevels   []entity.Level
}

type noopMetrics struct{}

func (noopMetrics) AlertFired(string, entity.Level) {}
func (noopMetrics) Notified(string, bool)          {}
