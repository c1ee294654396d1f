// Package scheduler fires aligned ticks and fans each tick out to independent jobs.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TickFunc is invoked on every aligned interval.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Job is one independent unit of work run on a tick.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// AlignToStart fires on multiples of Interval (12:00, 12:05, ...) instead of
	// Interval after start-up.
	AlignToStart bool
	StartupDelay time.Duration
	// RunOnStart fires one tick right after StartupDelay, before the first aligned bucket.
	RunOnStart bool
	// MaxConcurrent caps jobs running at once within a tick; zero means no cap.
	MaxConcurrent int
}

// Scheduler drives periodic source runs.
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
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks and calls tick once per bucket until ctx is cancelled. Tick errors
// are logged and never stop the loop. Missed buckets are skipped, not replayed.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if err := sleep(ctx, s.opts.StartupDelay); err != nil {
		return err
	}
	if s.opts.RunOnStart {
		s.fire(ctx, tick, s.bucketStart(s.now()))
	}

	for {
		next := s.nextTick(s.now())
		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")
		if err := sleep(ctx, next.Sub(s.now())); err != nil {
			return err
		}
		s.fire(ctx, tick, s.bucketStart(next))
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, bucket time.Time) {
	s.logger.Info().Time("bucket", bucket).Msg("executing scheduled tick")
	if err := tick(ctx, bucket); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
	}
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nextTick returns the first fire time strictly after now.
func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	return now.Truncate(s.opts.Interval).Add(s.opts.Interval)
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

// RunJobs runs jobs concurrently, at most MaxConcurrent at a time, and waits for
// all of them. A failing job does not cancel the others; every failure is
// joined into the returned error.
func (s *Scheduler) RunJobs(ctx context.Context, bucket time.Time, jobs []Job) error {
	var g errgroup.Group
	if s.opts.MaxConcurrent > 0 {
		g.SetLimit(s.opts.MaxConcurrent)
	}

	errs := make([]error, len(jobs))
	for i, job := range jobs {
		g.Go(func() error {
			started := time.Now()
			err := job.Run(ctx)
			log := s.logger.Debug()
			if err != nil {
				log = s.logger.Warn().Err(err)
			}
			log.Str("job", job.Name).
				Time("bucket", bucket).
				Dur("elapsed", time.Since(started)).
				Msg("job finished")
			errs[i] = err
			return err
		})
	}
	if err := g.Wait(); err == nil {
		return nil
	}
	return errors.Join(errs...)
}
