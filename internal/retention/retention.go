// Package retention periodically purges idle private history.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/logger"
)

// Purger drops buffers idle since before cutoff and reports how many.
type Purger interface {
	PurgeIdle(ctx context.Context, cutoff time.Time) (int, error)
}

// Scheduler runs a Purger on a cron schedule.
type Scheduler struct {
	cron    string
	idleFor time.Duration
	purger  Purger
	now     func() time.Time
}

// NewScheduler validates cron and returns a scheduler that purges buffers idle
// for longer than idleFor.
func NewScheduler(cron string, idleFor time.Duration, purger Purger) (*Scheduler, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cron)
	}
	if idleFor <= 0 {
		return nil, fmt.Errorf("retention idle period must be positive")
	}
	return &Scheduler{cron: cron, idleFor: idleFor, purger: purger, now: time.Now}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, t, false)
}

// RunOnce purges everything idle for longer than the configured period.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.idleFor)
	n, err := s.purger.PurgeIdle(ctx, cutoff)
	if err != nil {
		logger.Error("retention_run_error", zap.Error(err))
		return n, err
	}
	logger.Info("retention_run_complete", zap.Int("purged", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// Run blocks, purging on every cron tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info("retention_scheduler_started", zap.String("cron", s.cron), zap.Duration("idle_for", s.idleFor))
	for {
		next, err := s.Next(s.now())
		wait := time.Until(next)
		if err != nil {
			logger.Error("retention_nexttick_failed", zap.String("cron", s.cron), zap.Error(err))
			wait = 30 * time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("retention_scheduler_stopping")
			return
		case <-timer.C:
			if err == nil {
				_, _ = s.RunOnce(ctx)
			}
		}
	}
}
