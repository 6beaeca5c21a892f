// Package main wires together the regulation ingestion service.
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

	"go.uber.org/zap"

	"github.com/procuredocs/regcrawler/internal/api"
	"github.com/procuredocs/regcrawler/internal/attach"
	"github.com/procuredocs/regcrawler/internal/config"
	"github.com/procuredocs/regcrawler/internal/discover"
	"github.com/procuredocs/regcrawler/internal/extract"
	collyfetcher "github.com/procuredocs/regcrawler/internal/fetcher/colly"
	"github.com/procuredocs/regcrawler/internal/ingest"
	"github.com/procuredocs/regcrawler/internal/logging"
	"github.com/procuredocs/regcrawler/internal/metrics"
	"github.com/procuredocs/regcrawler/internal/scheduler"
	storepg "github.com/procuredocs/regcrawler/internal/store/postgres"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	store, err := storepg.New(ctx, storepg.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:         cfg.Source.UserAgent,
		Timeout:           cfg.Timeout(),
		MaxRetries:        cfg.Crawler.MaxRetries,
		RetryBaseDelay:    cfg.RetryBaseDelay(),
		RequestsPerSecond: cfg.Crawler.RequestsPerSecond,
	}, logger.Named("fetcher"))

	discoverer := discover.New(fetcher, discover.Config{
		BaseURL:  cfg.Source.BaseURL,
		IndexURL: cfg.Source.IndexURL,
		PageSize: cfg.Source.PageSize,
	}, logger.Named("discover"))

	extractor := extract.New(fetcher, logger.Named("extract"))

	attachments := attach.New(fetcher, attach.Config{
		AttachmentDir: cfg.Storage.AttachmentDir,
	}, logger.Named("attach"))

	runner := ingest.New(discoverer, extractor, attachments, store, ingest.Config{
		Categories:    cfg.Categories,
		ItemDelay:     cfg.ItemDelay(),
		PageDelay:     cfg.PageDelay(),
		CategoryDelay: cfg.CategoryDelay(),
	}, logger.Named("ingest"))

	apiServer := api.NewServer(store, runner, api.Config{
		PageSize: cfg.Source.PageSize,
	}, logger.Named("api"))

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(runner, scheduler.Config{
			IntervalHours: cfg.Scheduler.IntervalHours,
		}, logger.Named("scheduler"))
		if err := sched.Start(); err != nil {
			logger.Fatal("scheduler start failed", zap.Error(err))
		}
	}

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if sched != nil {
		sched.Stop()
	}
	logger.Info("shutdown complete")
}
