package service

import (
	"context"
	"errors"
	"time"

	"feedsync/internal/envelope"
	"feedsync/internal/fetcher"
	"feedsync/internal/normalize"
	"feedsync/internal/storage"
)

// Source tags.
const (
	SourceQuotes     = "quotes"
	SourceNews       = "news"
	SourceQueryProxy = "query-proxy"
)

// Status is the terminal outcome of a run.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusPersisted Status = "persisted"
	StatusFailed    Status = "failed"
)

// Stage is the orchestrator state a run reached.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageFetching    Stage = "fetching"
	StageParsing     Stage = "parsing"
	StageNormalizing Stage = "normalizing"
	StageGateCheck   Stage = "gate_check"
	StagePersisting  Stage = "persisting"
	StageDone        Stage = "done"
	StageSkipped     Stage = "skipped"
)

// ErrorKind classifies why a run failed.
type ErrorKind string

const (
	KindTransientUpstream   ErrorKind = "transient_upstream"
	KindUnparseableResponse ErrorKind = "unparseable_response"
	KindPersistenceFailure  ErrorKind = "persistence_failure"
	KindInternalError       ErrorKind = "internal_error"
)

// Result is the single terminal report of one run.
type Result struct {
	Source            string        `json:"source"`
	RunID             string        `json:"runId"`
	Status            Status        `json:"status"`
	Stage             Stage         `json:"stage"`
	RecordsConsidered int           `json:"recordsConsidered"`
	RecordsWritten    int           `json:"recordsWritten"`
	RecordsDropped    int           `json:"recordsDropped"`
	Attempts          int           `json:"attempts"`
	Fingerprint       string        `json:"fingerprint,omitempty"`
	ErrorKind         ErrorKind     `json:"errorKind,omitempty"`
	Error             string        `json:"error,omitempty"`
	StartedAt         time.Time     `json:"startedAt"`
	Duration          time.Duration `json:"-"`
	DurationMs        int64         `json:"durationMs"`
	// Items carries the retained news items of a persisted news run.
	Items []storage.NewsItem `json:"items,omitempty"`
}

// Failed reports whether the run ended in the failed state.
func (r Result) Failed() bool { return r.Status == StatusFailed }

// persistenceError marks failures of the gate store or the batch writer.
type persistenceError struct{ err error }

func (e *persistenceError) Error() string { return e.err.Error() }
func (e *persistenceError) Unwrap() error { return e.err }

// Classify maps an error returned by a pipeline stage onto an ErrorKind.
func Classify(err error) ErrorKind {
	var (
		exhausted   *fetcher.ExhaustedError
		unparseable *envelope.UnparseableError
		batch       *storage.BatchError
		persist     *persistenceError
	)
	switch {
	case err == nil:
		return ""
	// storage failures stay persistence failures even when a context error caused them
	case errors.As(err, &batch), errors.As(err, &persist):
		return KindPersistenceFailure
	case errors.As(err, &exhausted),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindTransientUpstream
	case errors.As(err, &unparseable), errors.Is(err, normalize.ErrUnexpectedShape):
		return KindUnparseableResponse
	default:
		return KindInternalError
	}
}
