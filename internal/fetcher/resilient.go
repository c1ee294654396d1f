package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const sentinelPreviewChars = 200

// Options parameterise the resilient fetcher.
type Options struct {
	Timeout       time.Duration
	MaxAttempts   int
	SentinelDelay time.Duration
	NetworkDelay  time.Duration
	Sentinels     []string
	UserAgent     string
}

// Resilient issues GETs with a bounded timeout and retries soft failures.
type Resilient struct {
	opts   Options
	logger zerolog.Logger
	client *resty.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewResilient constructs a fetcher, filling unset options with defaults.
func NewResilient(opts Options, logger zerolog.Logger) *Resilient {
	if opts.Timeout <= 0 {
		opts.Timeout = 12 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.SentinelDelay <= 0 {
		opts.SentinelDelay = 300 * time.Millisecond
	}
	if opts.NetworkDelay <= 0 {
		opts.NetworkDelay = 400 * time.Millisecond
	}
	if opts.Sentinels == nil {
		opts.Sentinels = []string{"System Error"}
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "Mozilla/5.0"
	}

	log := logger.With().Str("component", "resilient_fetcher").Logger()
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetLogger(restyLogger{log})

	return &Resilient{
		opts:   opts,
		logger: log,
		client: client,
		sleep:  sleepContext,
	}
}

// Fetch runs up to MaxAttempts sequential attempts and returns the first non-soft-failure body.
// HTTP status codes are not interpreted here.
func (r *Resilient) Fetch(ctx context.Context, build RequestBuilder) (Response, error) {
	var (
		trail   []Attempt
		lastErr error
	)

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response{}, fmt.Errorf("fetch aborted before attempt %d: %w", attempt, err)
		}

		req := build(attempt)
		started := time.Now()
		resp, err := r.client.R().
			SetContext(ctx).
			SetHeaders(req.Headers).
			Get(req.URL)
		elapsed := time.Since(started)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Response{}, fmt.Errorf("fetch aborted during attempt %d: %w", attempt, ctxErr)
			}
			lastErr = &TransportError{Timeout: isTimeout(err), Err: err}
			trail = append(trail, Attempt{Number: attempt, Elapsed: elapsed, Err: lastErr})
			r.logger.Warn().Err(err).
				Int("attempt", attempt).
				Dur("elapsed", elapsed).
				Bool("timeout", isTimeout(err)).
				Msg("upstream request failed")
			if err := r.backoff(ctx, attempt, r.opts.NetworkDelay); err != nil {
				return Response{}, err
			}
			continue
		}

		body := string(resp.Body())
		if r.hasSentinel(body) {
			lastErr = fmt.Errorf("%w: %s", ErrUpstreamFault, truncateChars(body, sentinelPreviewChars))
			trail = append(trail, Attempt{Number: attempt, StatusCode: resp.StatusCode(), Elapsed: elapsed, Err: lastErr})
			r.logger.Warn().
				Int("attempt", attempt).
				Int("status", resp.StatusCode()).
				Msg("upstream returned transient error marker")
			if err := r.backoff(ctx, attempt, r.opts.SentinelDelay); err != nil {
				return Response{}, err
			}
			continue
		}

		trail = append(trail, Attempt{Number: attempt, StatusCode: resp.StatusCode(), Elapsed: elapsed})
		r.logger.Debug().
			Int("attempt", attempt).
			Int("status", resp.StatusCode()).
			Int("bytes", len(body)).
			Dur("elapsed", elapsed).
			Msg("upstream responded")

		return Response{
			Body:       body,
			URL:        req.URL,
			Token:      req.Token,
			StatusCode: resp.StatusCode(),
			Attempt:    attempt,
			Elapsed:    elapsed,
			Attempts:   trail,
		}, nil
	}

	return Response{}, &ExhaustedError{Attempts: len(trail), Last: lastErr, Trail: trail}
}

// backoff waits base*attempt unless this was the final attempt.
func (r *Resilient) backoff(ctx context.Context, attempt int, base time.Duration) error {
	if attempt >= r.opts.MaxAttempts {
		return nil
	}
	if err := r.sleep(ctx, base*time.Duration(attempt)); err != nil {
		return fmt.Errorf("fetch aborted during backoff: %w", err)
	}
	return nil
}

func (r *Resilient) hasSentinel(body string) bool {
	for _, s := range r.opts.Sentinels {
		if s != "" && strings.Contains(body, s) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateChars(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), v...)
}

var _ Fetcher = (*Resilient)(nil)
