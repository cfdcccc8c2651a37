package di

import (
	"context"
	"log/slog"
	"time"

	"ai_memory/internal/platform/config"
	"ai_memory/internal/platform/metrics"
	"ai_memory/internal/platform/scheduler"
)

// JobSet は定期実行する処理の集合です。nil の項目は登録しません。
type JobSet struct {
	JudgeSweep     func(ctx context.Context) error
	Promotion      func(ctx context.Context) error
	Decay          func(ctx context.Context) error
	Dedup          func(ctx context.Context) error
	Snapshot       func(ctx context.Context) error
	MetricsFlush   func(ctx context.Context) error
	MetricsPurge   func(ctx context.Context) error
	AlertCheck     func(ctx context.Context) error
	SessionCleanup func(ctx context.Context) error
}

// every は間隔をcron式に変換します。0以下なら無効です。
func every(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return "@every " + d.String()
}

// RegisterJobs はジョブをスケジューラーに登録し、実行結果を指標に記録します。
func RegisterJobs(s *scheduler.Scheduler, cfg *config.Config, jobs JobSet, reg *metrics.Registry) error {
	entries := []struct {
		name    string
		spec    string
		timeout time.Duration
		run     func(ctx context.Context) error
	}{
		{"judge_sweep", cfg.Schedules.JudgeSweep, 10 * time.Minute, jobs.JudgeSweep},
		{"promotion", cfg.Schedules.Promotion, 30 * time.Minute, jobs.Promotion},
		{"decay", cfg.Schedules.Decay, 30 * time.Minute, jobs.Decay},
		{"dedup", cfg.Schedules.Dedup, time.Hour, jobs.Dedup},
		{"snapshot", cfg.Schedules.Snapshot, 10 * time.Minute, jobs.Snapshot},
		{"metrics_flush", every(cfg.Metrics.PersistInterval), time.Minute, jobs.MetricsFlush},
		{"metrics_purge", "@daily", 5 * time.Minute, jobs.MetricsPurge},
		{"alert_check", every(cfg.Alert.CheckInterval), time.Minute, jobs.AlertCheck},
		{"session_cleanup", cfg.Schedules.SessionCleanup, time.Minute, jobs.SessionCleanup},
	}
	for _, e := range entries {
		if e.run == nil {
			continue
		}
		err := s.Add(scheduler.Job{
			Name:    e.name,
			Spec:    e.spec,
			Timeout: e.timeout,
			Run:     instrument(e.name, e.run, reg),
		})
		if err != nil {
			return err
		}
	}
	slog.Info("scheduled jobs registered", "jobs", s.Jobs())
	return nil
}

func instrument(name string, run func(ctx context.Context) error, reg *metrics.Registry) func(ctx context.Context) error {
	if reg == nil {
		return run
	}
	return func(ctx context.Context) error {
		err := run(ctx)
		reg.JobRuns.WithLabelValues(name, metrics.Result(err == nil)).Inc()
		return err
	}
}
