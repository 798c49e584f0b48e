// Package main wires together the audit service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"seoscope/internal/api"
	archivegcs "seoscope/internal/archive/gcs"
	archivelocal "seoscope/internal/archive/local"
	archivememory "seoscope/internal/archive/memory"
	"seoscope/internal/audit"
	"seoscope/internal/broadcast"
	"seoscope/internal/clock/system"
	"seoscope/internal/config"
	"seoscope/internal/id/uuid"
	"seoscope/internal/logging"
	"seoscope/internal/metrics"
	notifymemory "seoscope/internal/notify/memory"
	notifypubsub "seoscope/internal/notify/pubsub"
	"seoscope/internal/pagespeed"
	"seoscope/internal/processor"
	"seoscope/internal/retention"
	"seoscope/internal/rules"
	collyscanner "seoscope/internal/scanner/colly"
	"seoscope/internal/sitemap"
	"seoscope/internal/storage/memory"
	"seoscope/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	store, cleanup, err := buildJobStore(ctx, cfg, clock, logger)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	defer cleanup()

	hub := broadcast.NewHub(logger.Named("hub"))
	defer hub.Close()

	scanner := collyscanner.New(collyscanner.Config{
		UserAgent:   cfg.Scanner.UserAgent,
		MaxPages:    cfg.Scanner.MaxPages,
		MaxDepth:    cfg.Scanner.MaxDepth,
		Parallelism: cfg.Scanner.Concurrency,
		Timeout:     time.Duration(cfg.Scanner.TimeoutSeconds) * time.Second,
		Delay:       time.Duration(cfg.Scanner.DelayMs) * time.Millisecond,
	})
	sitemaps := sitemap.New(sitemap.Config{
		Timeout:   time.Duration(cfg.Sitemap.TimeoutSeconds) * time.Second,
		UserAgent: cfg.Scanner.UserAgent,
		MaxURLs:   cfg.Sitemap.MaxURLs,
	}, logger.Named("sitemap"))
	perf := pagespeed.New(pagespeed.Config{
		Endpoint: cfg.PageSpeed.Endpoint,
		APIKey:   cfg.PageSpeed.APIKey,
		Strategy: cfg.PageSpeed.Strategy,
		Timeout:  time.Duration(cfg.PageSpeed.TimeoutSeconds) * time.Second,
	})

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Fatal("report archive init failed", zap.Error(err))
	}
	notifier, notifierCleanup, err := buildNotifier(ctx, cfg)
	if err != nil {
		logger.Fatal("notifier init failed", zap.Error(err))
	}
	defer notifierCleanup()

	proc := processor.New(
		store,
		hub,
		scanner,
		sitemaps,
		perf,
		archive,
		notifier,
		rules.DefaultPageRules(),
		rules.DefaultSiteRules(),
		clock,
		processor.Config{PollInterval: cfg.PollInterval()},
		logger.Named("processor"),
	)
	proc.Start(ctx)

	sweeper := retention.New(store, clock, retention.Config{
		Window:        cfg.RetentionWindow(),
		Interval:      cfg.RetentionSweepInterval(),
		IncludeFailed: cfg.Processor.PruneFailed,
	}, logger.Named("retention"))
	sweeper.Start(ctx)

	apiServer := api.NewServer(store, hub, idGen, clock, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	// The in-flight audit, if any, finishes before the processor exits.
	if err := proc.Stop(shutdownCtx); err != nil {
		logger.Error("processor shutdown error", zap.Error(err))
	}
	sweeper.Stop()
	logger.Info("shutdown complete")
}

func buildJobStore(ctx context.Context, cfg config.Config, clock audit.Clock, logger *zap.Logger) (audit.JobStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("using in-memory job store")
		return memory.NewJobStore(clock), func() {}, nil
	}
	store, pool, err := postgres.NewJobStore(ctx, cfg.DB.DSN, clock)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	logger.Info("using postgres job store")
	return store, pool.Close, nil
}

func buildArchive(ctx context.Context, cfg config.Config) (audit.ReportArchive, error) {
	switch cfg.Archive.Backend {
	case "":
		return nil, nil
	case "memory":
		return archivememory.New(), nil
	case "local":
		return archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.BaseDir})
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return archivegcs.New(client, archivegcs.Config{
			Bucket: cfg.Archive.Bucket,
			Prefix: cfg.Archive.Prefix,
		})
	default:
		return nil, fmt.Errorf("archive backend %q is not supported", cfg.Archive.Backend)
	}
}

func buildNotifier(ctx context.Context, cfg config.Config) (audit.Notifier, func(), error) {
	switch cfg.Notify.Backend {
	case "":
		return nil, func() {}, nil
	case "memory":
		return notifymemory.New(), func() {}, nil
	case "pubsub":
		notifier, err := notifypubsub.New(ctx, notifypubsub.Config{
			ProjectID: cfg.Notify.ProjectID,
			TopicID:   cfg.Notify.TopicID,
		})
		if err != nil {
			return nil, nil, err
		}
		return notifier, func() { _ = notifier.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("notify backend %q is not supported", cfg.Notify.Backend)
	}
}
