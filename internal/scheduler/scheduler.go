// Package scheduler runs the periodic background jobs: watchlist cache
// warmup and stats reporting.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"marketdata/internal/aggregate"
)

// Scheduler manages the cron jobs around an aggregator.
type Scheduler struct {
	cron      *cron.Cron
	agg       *aggregate.Aggregator
	watchlist []string
	log       *slog.Logger
	ctx       context.Context
}

func New(ctx context.Context, agg *aggregate.Aggregator, watchlist []string, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		agg:       agg,
		watchlist: watchlist,
		log:       log,
		ctx:       ctx,
	}
}

// RegisterAll registers the warmup and stats jobs. Empty specs skip the
// corresponding job.
func (s *Scheduler) RegisterAll(warmupCron, statsCron string) error {
	if warmupCron != "" {
		if _, err := s.cron.AddFunc(warmupCron, s.warmupTask); err != nil {
			return fmt.Errorf("register warmup task: %w", err)
		}
	}
	if statsCron != "" {
		if _, err := s.cron.AddFunc(statsCron, s.statsTask); err != nil {
			return fmt.Errorf("register stats task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "watchlist", len(s.watchlist))
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("scheduler stopped")
}

// RunWarmupNow executes the warmup task immediately (for startup priming).
func (s *Scheduler) RunWarmupNow() {
	s.warmupTask()
}

// warmupTask batch-fetches the watchlist so the caches stay hot and
// consumer requests hit memory instead of a vendor.
func (s *Scheduler) warmupTask() {
	if len(s.watchlist) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	quotes, failed := s.agg.GetBatchQuotes(ctx, s.watchlist)
	s.log.Info("watchlist warmup", "fetched", len(quotes), "failed", len(failed))
	for _, f := range failed {
		s.log.Warn("warmup symbol failed", "symbol", f.Symbol, "reason", f.Reason)
	}
}

func (s *Scheduler) statsTask() {
	st := s.agg.Stats()
	s.log.Info("aggregator stats",
		"total", st.TotalRequests,
		"successes", st.Successes,
		"failures", st.Failures,
		"cache_hits", st.CacheHits,
		"cache_misses", st.CacheMisses,
		"failovers", st.FailoverEvents,
		"discrepancies", st.Discrepancies,
	)
}
