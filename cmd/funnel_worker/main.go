package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai_memory/internal/app/di"
	"ai_memory/internal/feature/memory/transport/queue"
	"ai_memory/internal/platform/config"
	"ai_memory/internal/platform/logging"
	"ai_memory/internal/platform/mq"
)

// judgeTimeout は1ジョブあたりの上限です。LLM呼び出しを含みます。
const judgeTimeout = 5 * time.Minute

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

	if cfg.RabbitMQ.URL == "" {
		slog.Error("RABBITMQ_URL is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 累計指標はサーバー側で集計するため、ワーカーでは記録しない
	core, err := di.NewCore(ctx, cfg, di.CoreOptions{})
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	conn, ch, err := mq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.JudgeQueue)
	if err != nil {
		slog.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = ch.Close()
		_ = conn.Close()
	}()

	h := queue.NewJudgeJobHandler(core.Funnel)
	consumer := mq.NewConsumer(ch, cfg.RabbitMQ.JudgeQueue, cfg.RabbitMQ.Prefetch, judgeTimeout)
	if err := consumer.Run(ctx, h.Handle); err != nil {
		slog.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("funnel worker exited")
}
