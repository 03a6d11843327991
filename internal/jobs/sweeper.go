package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/store"
)

// Sweeper periodically requeues jobs stuck in processing past the staleness
// cutoff, typically after a worker crash. Jobs at the retry cap are failed
// instead of recirculating forever.
type Sweeper struct {
	store store.Store
	cfg   config.JobsConfig
	cron  *cron.Cron
}

// NewSweeper creates a sweeper on the configured cron schedule.
func NewSweeper(st store.Store, cfg config.JobsConfig) *Sweeper {
	return &Sweeper{store: st, cfg: cfg, cron: cron.New()}
}

// Start schedules the sweep and begins running it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, s.sweep); err != nil {
		return fmt.Errorf("scheduling stale job sweep: %w", err)
	}
	s.cron.Start()
	slog.Info("stale job sweeper started",
		"schedule", s.cfg.SweepSchedule, "stale_after", s.cfg.StaleAfter, "max_retries", s.cfg.MaxRetries)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("stale job sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx := context.Background()

	requeued, failed, err := s.store.RequeueStaleJobs(ctx, s.cfg.StaleAfter, s.cfg.MaxRetries)
	if err != nil {
		slog.Error("stale job sweep failed", "error", err)
		return
	}
	if requeued > 0 || failed > 0 {
		slog.Info("stale job sweep", "requeued", requeued, "failed", failed)
	}
}
