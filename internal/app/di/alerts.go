package di

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	alertadapters "ai_memory/internal/feature/alerts/adapters"
	alertentity "ai_memory/internal/feature/alerts/domain/entity"
	alertusecase "ai_memory/internal/feature/alerts/usecase"
	"ai_memory/internal/platform/config"
	"ai_memory/internal/platform/mailer"
	"ai_memory/internal/platform/metrics"
)

// AlertConfig は環境設定をルールの既定値に変換します。未知の重要度は無視します。
func AlertConfig(a config.AlertConfig, n config.NotifyConfig) alertusecase.Config {
	levels := make([]alertentity.Level, 0, len(n.Levels))
	for _, s := range n.Levels {
		lv, ok := alertentity.ParseLevel(s)
		if !ok {
			slog.Warn("ignoring unknown notify level", "level", s)
			continue
		}
		levels = append(levels, lv)
	}
	return alertusecase.Config{
		QueueBacklogThreshold: a.QueueBacklogThreshold,
		QueueBacklogCooldown:  a.QueueBacklogCooldown,
		SuccessRateThreshold:  a.SuccessRateThreshold,
		SuccessRateCooldown:   a.SuccessRateCooldown,
		CacheHitRateThreshold: a.CacheHitRateThreshold,
		CacheHitRateCooldown:  a.CacheHitRateCooldown,
		CacheMinSamples:       a.CacheMinSamples,
		DecaySpikeThreshold:   a.DecaySpikeThreshold,
		DecaySpikeCooldown:    a.DecaySpikeCooldown,
		HistoryMaxSize:        a.HistoryMaxSize,
		NotifyLevels:          levels,
	}
}

// NewNotifiers は設定されている通知チャネルを返します。
func NewNotifiers(n config.NotifyConfig) []alertusecase.Notifier {
	var out []alertusecase.Notifier
	if n.WebhookURL != "" {
		out = append(out, alertadapters.NewWebhookNotifier(n.WebhookURL, n.WebhookTimeout))
	}
	if n.MailgunDomain != "" && n.MailgunAPIKey != "" && len(n.EmailTo) > 0 {
		mg := mailer.NewMailgun(n.MailgunDomain, n.MailgunAPIKey, n.MailgunSender)
		out = append(out, alertadapters.NewEmailNotifier(mg, n.EmailTo))
	}
	if len(out) == 0 {
		slog.Info("no alert notification channel configured")
	}
	return out
}

// NewAlerts はアラートエンジンを組み立て、保存済みのルール設定を読み込みます。
func NewAlerts(ctx context.Context, cfg *config.Config, db *gorm.DB, reg *metrics.Registry,
	signals alertusecase.SignalSource) (*alertusecase.AlertUsecase, error) {
	uc := alertusecase.NewAlertUsecase(
		alertadapters.NewAlertGorm(db),
		alertadapters.NewRuleConfigGorm(db),
		signals,
		NewNotifiers(cfg.Notify),
		alertadapters.NewPrometheusAlertMetrics(reg),
		AlertConfig(cfg.Alert, cfg.Notify),
	)
	if err := uc.Load(ctx); err != nil {
		return nil, err
	}
	return uc, nil
}
