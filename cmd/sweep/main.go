// Command sweep runs a single overdue-borrow pass, for use from cron.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrJamesThe3rd/reloop/internal/bootstrap"
	"github.com/MrJamesThe3rd/reloop/internal/config"
	"github.com/MrJamesThe3rd/reloop/internal/sweep"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(cfg.Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, cfg.App.Name+"-sweep")
	if err != nil {
		slog.Error("failed to open infrastructure", "error", err)
		os.Exit(1)
	}

	report, err := sweep.NewSweeper(infra.Repo, infra.Ledger, infra.Notifier, cfg.Sweep.Concurrency).Run(ctx, time.Now())

	infra.Close()

	if err != nil {
		slog.Error("overdue sweep failed", "error", err)
		os.Exit(1)
	}

	slog.Info("overdue sweep finished",
		"scanned", report.Scanned,
		"marked", report.Marked,
		"postings_marked", report.PostingsMarked,
		"failed", report.Failed,
	)
}
