package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"ai_memory/internal/app/di"
	"ai_memory/internal/platform/config"
	"ai_memory/internal/platform/logging"
)

const usage = "judge | promote | decay | dedup | snapshot | inspect | reset"

func main() {
	task := flag.String("task", "", "maintenance task: "+usage)
	timeout := flag.Duration("timeout", 30*time.Minute, "overall timeout")
	confirm := flag.Bool("yes", false, "confirm destructive tasks (reset)")
	flag.Parse()

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

	if *task == "reset" && !*confirm {
		slog.Error("reset clears STM and staging; re-run with -yes")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	core, err := di.NewCore(ctx, cfg, di.CoreOptions{})
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	result, err := runTask(ctx, core, *task)
	if err != nil {
		slog.Error("task failed", "task", *task, "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		slog.Error("failed to write result", "error", err)
		os.Exit(1)
	}
	slog.Info("task ok", "task", *task)
}

func runTask(ctx context.Context, core *di.Core, task string) (any, error) {
	switch task {
	case "judge":
		n, err := core.Funnel.Sweep(ctx)
		return map[string]int{"judged": n}, err
	case "promote":
		return core.Funnel.Promote(ctx)
	case "decay":
		return core.Maintenance.Decay(ctx)
	case "dedup":
		return core.Maintenance.Deduplicate(ctx)
	case "snapshot":
		uri, err := core.Maintenance.Snapshot(ctx)
		return map[string]string{"uri": uri}, err
	case "inspect":
		return core.Maintenance.Inspect(ctx)
	case "reset":
		return core.Maintenance.Reset(ctx)
	default:
		return nil, fmt.Errorf("unknown task %q (want %s)", task, usage)
	}
}
