package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrJamesThe3rd/reloop/internal/application"
	"github.com/MrJamesThe3rd/reloop/internal/arbitration"
	"github.com/MrJamesThe3rd/reloop/internal/auth"
	"github.com/MrJamesThe3rd/reloop/internal/bootstrap"
	"github.com/MrJamesThe3rd/reloop/internal/config"
	reloopHttp "github.com/MrJamesThe3rd/reloop/internal/http"
	applicationHandler "github.com/MrJamesThe3rd/reloop/internal/http/application"
	notificationHandler "github.com/MrJamesThe3rd/reloop/internal/http/notification"
	paymentHandler "github.com/MrJamesThe3rd/reloop/internal/http/payment"
	postingHandler "github.com/MrJamesThe3rd/reloop/internal/http/posting"
	"github.com/MrJamesThe3rd/reloop/internal/imagestore"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
	"github.com/MrJamesThe3rd/reloop/internal/payment"
	"github.com/MrJamesThe3rd/reloop/internal/posting"
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

	if err := run(ctx, cfg); err != nil {
		slog.Error("api failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	infra, err := bootstrap.Open(ctx, cfg, cfg.App.Name+"-api")
	if err != nil {
		return err
	}
	defer infra.Close()

	slog.Info("infrastructure ready", "infra", infra.String())

	images, err := openImages(ctx, cfg)
	if err != nil {
		return err
	}

	gateway := payment.NewMidtransClient(payment.MidtransOptions{
		Production: cfg.Payment.Production,
		ServerKey:  cfg.Payment.ServerKey,
		Expiry:     cfg.Payment.Expiry,
		Mock:       cfg.Payment.Mock,
	})

	postingService, err := posting.NewService(infra.Repo, infra.Ledger, gateway, cfg.Categories.CacheSize,
		posting.WithNotifier(infra.Notifier),
		posting.WithImageStore(images),
	)
	if err != nil {
		return err
	}

	var (
		applicationService  = application.NewService(infra.Repo, infra.Ledger, application.WithNotifier(infra.Notifier), application.WithImageStore(images))
		engine              = arbitration.NewEngine(infra.Repo, infra.Ledger, infra.Notifier)
		paymentService      = payment.NewService(infra.Repo)
		reconciler          = payment.NewReconciler(infra.Repo, infra.Ledger, infra.Notifier, infra.ReconcilerOptions(cfg)...)
		notificationService = notification.NewService(infra.Notifications)
	)

	router := reloopHttp.New(auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer), reloopHttp.Handlers{
		Postings:      postingHandler.NewHandler(postingService),
		Applications:  applicationHandler.NewHandler(applicationService, engine),
		Payments:      paymentHandler.NewHandler(paymentService, reconciler),
		Notifications: notificationHandler.NewHandler(notificationService),
	}, cfg.Server.CORSOrigins)

	if cfg.Sweep.Enabled {
		sweeper := sweep.NewSweeper(infra.Repo, infra.Ledger, infra.Notifier, cfg.Sweep.Concurrency)
		go sweep.NewScheduler(sweeper, cfg.Sweep.Interval, cfg.Sweep.RunOnStart).Start(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           http.TimeoutHandler(router, cfg.Server.Timeout, "request timed out"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		slog.Info("starting server", "port", srv.Addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}

		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	return nil
}

func openImages(ctx context.Context, cfg *config.Config) (imagestore.Store, error) {
	if cfg.Images.Bucket == "" {
		return imagestore.NewDiskStore(cfg.Images.Dir)
	}

	return imagestore.NewS3Store(ctx, imagestore.S3Options{
		Bucket:    cfg.Images.Bucket,
		Region:    cfg.Images.Region,
		Endpoint:  cfg.Images.Endpoint,
		PathStyle: cfg.Images.Endpoint != "",
	})
}
