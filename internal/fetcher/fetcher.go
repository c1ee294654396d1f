package fetcher

import (
	"context"
	"time"
)

// Request describes a single GET attempt.
type Request struct {
	URL     string
	Headers map[string]string
	// Token is the callback name the body is expected to be wrapped in, if any.
	Token string
}

// RequestBuilder is called once per attempt so nonces are regenerated.
type RequestBuilder func(attempt int) Request

// Attempt records the outcome of one network call.
type Attempt struct {
	Number     int
	StatusCode int
	Elapsed    time.Duration
	Err        error
}

// Response is the raw upstream payload of the successful attempt.
type Response struct {
	Body       string
	URL        string
	Token      string
	StatusCode int
	Attempt    int
	Elapsed    time.Duration
	Attempts   []Attempt
}

// Fetcher retrieves upstream text bodies.
type Fetcher interface {
	Fetch(ctx context.Context, build RequestBuilder) (Response, error)
}
