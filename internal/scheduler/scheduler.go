// Package scheduler triggers periodic crawl-all runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/procuredocs/regcrawler/internal/ingest"
)

// Crawler is the slice of the run orchestrator the scheduler drives.
type Crawler interface {
	CrawlScheduled(ctx context.Context) (int, error)
}

// Config controls the trigger interval.
type Config struct {
	IntervalHours int
}

// Scheduler fires a full crawl every configured interval.
type Scheduler struct {
	cron    *cron.Cron
	crawler Crawler
	cfg     Config
	logger  *zap.Logger
}

// New builds a Scheduler. It does not start ticking until Start is called.
func New(crawler Crawler, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.IntervalHours <= 0 {
		cfg.IntervalHours = 48
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(),
		crawler: crawler,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start registers the interval trigger and begins ticking.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %dh", s.cfg.IntervalHours)
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return fmt.Errorf("register crawl schedule: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("interval_hours", s.cfg.IntervalHours))
	return nil
}

// Stop halts the ticker and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// runOnce executes one scheduled crawl-all. A manual run already holding the
// gate is not an error worth more than a log line; the next tick tries again.
func (s *Scheduler) runOnce() {
	start := time.Now()
	count, err := s.crawler.CrawlScheduled(context.Background())
	switch {
	case errors.Is(err, ingest.ErrRunActive):
		s.logger.Info("scheduled crawl skipped, another run is active")
	case err != nil:
		s.logger.Error("scheduled crawl failed",
			zap.Int("count", count),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
	default:
		s.logger.Info("scheduled crawl finished",
			zap.Int("count", count),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
