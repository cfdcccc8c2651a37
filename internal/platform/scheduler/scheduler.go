// Package scheduler はcron式で定期ジョブを実行します。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job は定期実行される1つの処理です。
type Job struct {
	Name    string
	Spec    string // "@every 10m", "@daily", "0 1 * * *" など
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler はcron.Cronの薄いラッパーです。
// 前回の実行が終わっていないジョブはスキップします。
type Scheduler struct {
	cron *cron.Cron
	jobs []string
}

// New creates a scheduler that logs through slog.
func New() *Scheduler {
	logger := NewCronLogger(slog.Default().With("component", "cron"))
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// Add registers a job. An empty Spec disables the job.
func (s *Scheduler) Add(job Job) error {
	if job.Spec == "" {
		slog.Warn("job schedule not defined, job will not run", "job", job.Name)
		return nil
	}
	if job.Timeout <= 0 {
		job.Timeout = 5 * time.Minute
	}
	id, err := s.cron.AddFunc(job.Spec, func() { runJob(job) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	s.jobs = append(s.jobs, job.Name)
	slog.Info("job scheduled", "job", job.Name, "spec", job.Spec, "id", id)
	return nil
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	return s.jobs
}

// Start starts the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop は実行中のジョブの完了を最大 timeout まで待ちます。
func (s *Scheduler) Stop(timeout time.Duration) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		slog.Info("scheduler stopped gracefully")
	case <-time.After(timeout):
		slog.Warn("scheduler stop timed out")
	}
}

func runJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), job.Timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		slog.Error("job run failed", "job", job.Name, "error", err, "elapsed", time.Since(start))
		return
	}
	slog.Debug("job run completed", "job", job.Name, "elapsed", time.Since(start))
}

// cronLogger adapts slog.Logger to the cron.Logger interface.
type cronLogger struct {
	l *slog.Logger
}

// NewCronLogger creates a new cron.Logger backed by slog.
func NewCronLogger(l *slog.Logger) cron.Logger {
	return &cronLogger{l: l}
}

// Info はcronの定常メッセージをDebugで出力します（毎tick出るため）。
func (cl *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	cl.l.Debug(msg, keysAndValues...)
}

func (cl *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	cl.l.Error(msg, append(keysAndValues, "error", err)...)
}
