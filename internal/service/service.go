// Package service orchestrates fetch, parse, normalize, gate and persist runs per source.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"feedsync/internal/scheduler"
	"feedsync/internal/storage"
)

// ErrUnknownSource is returned for a source name with no registered runner.
var ErrUnknownSource = errors.New("unknown source")

// Runner executes one run of a source.
type Runner interface {
	Run(ctx context.Context) Result
}

var (
	_ Runner = (*Quotes)(nil)
	_ Runner = (*News)(nil)
)

// Service drives the enabled sources on the scheduler cadence.
type Service struct {
	scheduler *scheduler.Scheduler
	sources   map[string]Runner
	enabled   []string
	locker    storage.AdvisoryLocker
	lockKey   int64
	logger    zerolog.Logger
}

// New constructs the service. enabled lists the sources run on each tick, in order.
// When store implements storage.AdvisoryLocker and lockKey is non-zero, ticks are
// serialised across replicas.
func New(sched *scheduler.Scheduler, sources map[string]Runner, enabled []string, store any, lockKey int64, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		sources:   sources,
		enabled:   enabled,
		locker:    locker,
		lockKey:   lockKey,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// RunSource performs a single run of the named source.
func (s *Service) RunSource(ctx context.Context, source string) (Result, error) {
	runner, ok := s.sources[source]
	if !ok {
		return Result{}, fmt.Errorf("%w %q (want %s or %s)", ErrUnknownSource, source, SourceQuotes, SourceNews)
	}
	return runner.Run(ctx), nil
}

// ProcessBucket 在一个调度周期内并发执行所有启用的数据源。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	jobs := make([]scheduler.Job, 0, len(s.enabled))
	for _, name := range s.enabled {
		runner, ok := s.sources[name]
		if !ok {
			return fmt.Errorf("%w %q", ErrUnknownSource, name)
		}
		jobs = append(jobs, scheduler.Job{
			Name: name,
			Run: func(ctx context.Context) error {
				res := runner.Run(ctx)
				if res.Failed() {
					return fmt.Errorf("%s run %s failed (%s): %s", res.Source, res.RunID, res.ErrorKind, res.Error)
				}
				return nil
			},
		})
	}
	return s.scheduler.RunJobs(ctx, bucket, jobs)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
