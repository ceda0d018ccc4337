package cli

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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/orrn/printdesk/internal/api"
	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/cups"
	"github.com/orrn/printdesk/internal/db"
	"github.com/orrn/printdesk/internal/metrics"
	"github.com/orrn/printdesk/internal/pdf"
	"github.com/orrn/printdesk/internal/report"
	"github.com/orrn/printdesk/internal/retention"
	"github.com/orrn/printdesk/internal/webhook"
)

func buildServeCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the print worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, cfg.Logging.NewLogger(os.Stderr))
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	started := time.Now()
	slog.SetDefault(logger)

	loc, err := cfg.Quota.Location()
	if err != nil {
		return err
	}

	database, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return err
	}
	store := db.NewStore(database)
	defer store.Close()

	if err := middleware.EnsureDefaultAdmin(ctx, store, cfg.Auth.DefaultAdminPassword, logger); err != nil {
		return fmt.Errorf("failed to create default admin: %w", err)
	}

	auth, err := middleware.NewAuthMiddleware(ctx, store, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger)
	if err != nil {
		return fmt.Errorf("failed to initialise auth: %w", err)
	}

	collector := metrics.NewCollector()

	sender := webhook.NewWebhookSender(webhook.WebhookConfig{
		URLs:        cfg.Webhooks.URLs,
		Secret:      cfg.Webhooks.Secret,
		RetryCount:  cfg.Webhooks.MaxRetries,
		Timeout:     cfg.Webhooks.Timeout,
		WorkerCount: cfg.Webhooks.Workers,
		Logger:      logger,
	})
	sender.Start()
	defer sender.Stop()

	printer := cups.NewClient(cups.Config{
		Host:     cfg.Printer.Host,
		Port:     cfg.Printer.Port,
		User:     cfg.Printer.User,
		Password: cfg.Printer.Password,
		TLS:      cfg.Printer.TLS,
	})

	svc := core.NewService(store, printer, core.Config{
		PrinterName:  cfg.Printer.Name,
		MonthlyQuota: cfg.Quota.MonthlyPapers,
		Location:     loc,
		PollInterval: cfg.Queue.PollInterval,
		JobTimeout:   cfg.Queue.JobTimeout,
		OrphanPolicy: core.OrphanPolicy(cfg.Queue.OrphanPolicy),
	},
		core.WithLogger(logger),
		core.WithNotifier(sender),
		core.WithRecorder(collector),
	)

	queued, orphaned, err := svc.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload pending jobs: %w", err)
	}
	logger.Info("reloaded pending jobs", "queued", queued, "orphaned", orphaned, "orphan_policy", cfg.Queue.OrphanPolicy)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := core.NewWorker(svc).Run(workerCtx); err != nil {
			logger.Error("print worker exited", "error", err)
		}
	}()

	if cfg.Uploads.Retention > 0 {
		sweeper, err := retention.NewSweeper(store, retention.Config{
			Retention: cfg.Uploads.Retention,
			Interval:  cfg.Uploads.SweepInterval,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		Service:   svc,
		Auth:      auth,
		Counter:   pdf.NewCounter(),
		Exporter:  report.NewExporter(store, loc, logger),
		Health:    store,
		Metrics:   collector.Handler(),
		Location:  loc,
		UploadDir: cfg.Uploads.Dir,
		MaxUpload: cfg.Uploads.MaxBytes(),
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr, "printer", cfg.Printer.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-serveErr:
		if runErr != nil {
			logger.Error("http server failed", "error", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}

	// Let the worker finish its current job; past the deadline the job is
	// left PRINTING for the orphan policy on next start.
	svc.Close()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("print worker did not finish before shutdown deadline")
		stopWorker()
		<-workerDone
	}

	logger.Info("stopped", "uptime", time.Since(started).Round(time.Second))
	return runErr
}
