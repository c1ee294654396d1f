package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedsync/internal/fetcher"
	"feedsync/internal/gate"
	"feedsync/internal/normalize"
	"feedsync/internal/storage"
)

const (
	quotesMethod   = "Market_Center.getHQNodeDataSimple"
	quoteNonceSize = 15
)

// QuotesOptions configure the Sina quote list source.
type QuotesOptions struct {
	Endpoint string
	Node     string
	PageSize int
	GateKey  string
	// Location decides the trading date assigned to a run.
	Location *time.Location
}

// Quotes pulls the fund quote list and upserts it per trading day.
type Quotes struct {
	deps  Deps
	store storage.QuoteWriter
	opts  QuotesOptions
	nonce func() string
}

// NewQuotes wires the quote orchestrator.
func NewQuotes(deps Deps, store storage.QuoteWriter, opts QuotesOptions) *Quotes {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 1800
	}
	deps.Logger = deps.Logger.With().Str("component", "quotes").Logger()
	return &Quotes{deps: deps, store: store, opts: opts, nonce: callbackNonce}
}

// Run executes one quote run and always returns a terminal result.
func (q *Quotes) Run(ctx context.Context) (res Result) {
	r := q.deps.begin(SourceQuotes)
	defer r.finish(ctx, &res)

	r.enter(StageFetching)
	resp, err := q.deps.Fetcher.Fetch(ctx, q.request)
	r.recordAttempts(resp, err)
	if err != nil {
		return r.fail(fmt.Errorf("fetch quotes: %w", err))
	}

	r.enter(StageParsing)
	env, err := q.deps.Parser.Parse(resp.Body, resp.Token)
	if err != nil {
		return r.fail(err)
	}
	r.logger.Debug().Str("strategy", env.Strategy).Int("status", resp.StatusCode).Msg("quote payload decoded")

	r.enter(StageNormalizing)
	quotes, stats, err := normalize.Quotes(env, tradingDay(r.now, q.opts.Location))
	if err != nil {
		return r.fail(err)
	}
	r.res.RecordsConsidered = stats.Kept
	r.res.RecordsDropped = stats.Dropped()
	if stats.Dropped() > 0 {
		r.logger.Info().
			Int("total", stats.Total).
			Int("dropped_trade", stats.DroppedTrade).
			Int("dropped_code", stats.DroppedCode).
			Msg("dropped invalid quotes")
	}

	fingerprint, err := gate.FingerprintJSON(env.Value)
	if err != nil {
		return r.fail(err)
	}

	return r.gateAndPersist(ctx, q.opts.GateKey, fingerprint, func(ctx context.Context) (int, error) {
		return q.store.UpsertQuotes(ctx, quotes)
	})
}

// request builds the JSONP URL with a fresh callback token.
func (q *Quotes) request(_ int) fetcher.Request {
	token := fmt.Sprintf("IO.XSRV2.CallbackList['%s']", q.nonce())
	params := url.Values{}
	params.Set("page", "1")
	params.Set("num", strconv.Itoa(q.opts.PageSize))
	params.Set("sort", "symbol")
	params.Set("asc", "0")
	params.Set("node", q.opts.Node)

	return fetcher.Request{
		URL:   fmt.Sprintf("%s/%s/%s?%s", strings.TrimRight(q.opts.Endpoint, "/"), token, quotesMethod, params.Encode()),
		Token: token,
	}
}

func callbackNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:quoteNonceSize]
}

// tradingDay is midnight of now in loc.
func tradingDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
