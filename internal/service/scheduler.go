package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("invalid miner schedule %q: %w", spec, err)
	}
	return sched, nil
}

// StartMinerScheduler runs incremental mining on schedule until ctx is done.
// An empty schedule disables it. The returned channel closes when the loop exits.
// Examples: "0 3 * * *" (daily 3am), "*/30 * * * *" (every 30 minutes).
func StartMinerScheduler(ctx context.Context, schedule string, miner *MiningService, logger zerolog.Logger) (<-chan struct{}, error) {
	done := make(chan struct{})
	if strings.TrimSpace(schedule) == "" {
		logger.Info().Msg("miner schedule not set, scheduled mining disabled")
		close(done)
		return done, nil
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		close(done)
		return done, err
	}
	logger.Info().Str("schedule", schedule).Msg("pattern mining scheduled")

	go func() {
		defer close(done)
		for {
			now := time.Now()
			next := sched.Next(now)
			if next.IsZero() {
				logger.Error().Str("schedule", schedule).Msg("miner schedule never fires, scheduled mining stopped")
				return
			}
			logger.Debug().Time("next", next).Msg("next scheduled mining run")

			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			if _, err := miner.Run(ctx, RunOptions{}); err != nil {
				if errors.Is(err, ErrMinerBusy) {
					logger.Warn().Msg("scheduled mining skipped, run already in progress")
					continue
				}
				logger.Error().Err(err).Msg("scheduled mining failed")
			}
		}
	}()
	return done, nil
}
