package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"feedsync/internal/alerting"
	"feedsync/internal/envelope"
	"feedsync/internal/fetcher"
	"feedsync/internal/gate"
)

const notifyTimeout = 10 * time.Second

// Deps are shared by every orchestrator.
type Deps struct {
	Fetcher    fetcher.Fetcher
	Parser     *envelope.Parser
	Gate       *gate.Detector
	CommitMode gate.CommitMode
	// Notifier is optional; failed runs are pushed to it.
	Notifier alerting.Notifier
	Logger   zerolog.Logger
	Now      func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// run tracks one pipeline execution from idle to its terminal state.
type run struct {
	deps   *Deps
	res    Result
	logger zerolog.Logger
	now    time.Time
}

func (d *Deps) begin(source string) *run {
	now := d.now()
	id := uuid.NewString()
	return &run{
		deps: d,
		res: Result{
			Source:    source,
			RunID:     id,
			Stage:     StageIdle,
			StartedAt: now,
		},
		logger: d.Logger.With().Str("source", source).Str("run_id", id).Logger(),
		now:    now,
	}
}

func (r *run) enter(stage Stage) {
	r.res.Stage = stage
	r.logger.Debug().Str("stage", string(stage)).Msg("stage entered")
}

func (r *run) recordAttempts(resp fetcher.Response, err error) {
	var exhausted *fetcher.ExhaustedError
	if errors.As(err, &exhausted) {
		r.res.Attempts = exhausted.Attempts
		return
	}
	r.res.Attempts = resp.Attempt
}

func (r *run) fail(err error) Result {
	r.res.Status = StatusFailed
	r.res.ErrorKind = Classify(err)
	r.res.Error = err.Error()
	return r.res
}

func (r *run) skip() Result {
	r.res.Status = StatusSkipped
	r.res.Stage = StageSkipped
	r.res.RecordsWritten = 0
	return r.res
}

func (r *run) done(written int) Result {
	r.res.Status = StatusPersisted
	r.res.Stage = StageDone
	r.res.RecordsWritten = written
	return r.res
}

// finish is deferred by every Run. It converts panics into internal errors,
// stamps the duration, logs the outcome and notifies on failure.
func (r *run) finish(ctx context.Context, res *Result) {
	if p := recover(); p != nil {
		r.logger.Error().Interface("panic", p).Str("stage", string(r.res.Stage)).Msg("run panicked")
		*res = r.fail(fmt.Errorf("panic in stage %s: %v", r.res.Stage, p))
	}

	res.Duration = r.deps.now().Sub(r.now)
	res.DurationMs = res.Duration.Milliseconds()

	event := r.logger.Info()
	if res.Failed() {
		event = r.logger.Error().Str("error_kind", string(res.ErrorKind)).Str("error", res.Error)
	}
	event.Str("status", string(res.Status)).
		Str("stage", string(res.Stage)).
		Int("considered", res.RecordsConsidered).
		Int("written", res.RecordsWritten).
		Int("dropped", res.RecordsDropped).
		Int("attempts", res.Attempts).
		Dur("duration", res.Duration).
		Msg("run finished")

	if res.Failed() && r.deps.Notifier != nil {
		note := alerting.Notification{
			Source:    res.Source,
			RunID:     res.RunID,
			Stage:     string(res.Stage),
			ErrorKind: string(res.ErrorKind),
			Error:     res.Error,
			Attempts:  res.Attempts,
			StartedAt: res.StartedAt,
		}
		// the run's ctx may be the reason it failed
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := r.deps.Notifier.Notify(notifyCtx, note); err != nil {
			r.logger.Warn().Err(err).Msg("failed to dispatch failure alert")
		}
	}
}

// gateAndPersist runs the gate check and, when the content is new, the batch write.
func (r *run) gateAndPersist(ctx context.Context, key, fingerprint string, persist func(context.Context) (int, error)) Result {
	r.enter(StageGateCheck)
	r.res.Fingerprint = fingerprint

	decision, err := r.deps.Gate.ShouldProceed(ctx, fingerprint, key)
	if err != nil {
		return r.fail(&persistenceError{err: err})
	}
	if decision == gate.Skip {
		r.logger.Info().Str("fingerprint", fingerprint).Msg("content unchanged, skipping persistence")
		return r.skip()
	}

	if r.deps.CommitMode != gate.CommitAfterPersist {
		if err := r.deps.Gate.Commit(ctx, key, fingerprint); err != nil {
			return r.fail(&persistenceError{err: err})
		}
	}

	r.enter(StagePersisting)
	written, err := persist(ctx)
	if err != nil {
		return r.fail(&persistenceError{err: fmt.Errorf("persist %s: %w", r.res.Source, err)})
	}

	if r.deps.CommitMode == gate.CommitAfterPersist {
		if err := r.deps.Gate.Commit(ctx, key, fingerprint); err != nil {
			return r.fail(&persistenceError{err: err})
		}
	}
	return r.done(written)
}
