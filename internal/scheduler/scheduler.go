package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc performs one unit of scheduled work.
type TickFunc func(ctx context.Context, started time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Name          string
	Interval      time.Duration
	RetryInterval time.Duration
	StartupDelay  time.Duration
}

// Scheduler runs a job back to back, pausing Interval after a successful run
// and RetryInterval after a failed one.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = opts.Interval
	}
	if opts.Name == "" {
		opts.Name = "job"
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("job", opts.Name).Logger(),
		now:    time.Now,
	}
}

// Run blocks, invoking tick until ctx is cancelled. Tick errors are logged
// and never end the loop. A tick already running when ctx is cancelled is
// waited for; cancellation only interrupts the pause between ticks.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := s.now().UTC()
		s.logger.Debug().Time("started", started).Msg("executing scheduled tick")

		delay := s.opts.Interval
		if err := tick(ctx, started); err != nil {
			delay = s.opts.RetryInterval
			s.logger.Error().Err(err).Dur("retry_in", delay).Msg("tick execution failed")
		}

		s.logger.Debug().Time("next_run", s.now().UTC().Add(delay)).Msg("waiting for next run")
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
