package service

import (
	"context"
	"fmt"
	"time"

	"feedsync/internal/envelope"
	"feedsync/internal/fetcher"
	"feedsync/internal/gate"
	"feedsync/internal/normalize"
	"feedsync/internal/storage"
)

// NewsOptions configure the RSS source.
type NewsOptions struct {
	URL     string
	GateKey string
	Window  normalize.Window
	// Location renders pubDate text.
	Location *time.Location
}

// News pulls the RSS feed and inserts unseen items.
type News struct {
	deps  Deps
	store storage.NewsWriter
	opts  NewsOptions
}

// NewNews wires the news orchestrator.
func NewNews(deps Deps, store storage.NewsWriter, opts NewsOptions) *News {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Window.Retention <= 0 {
		opts.Window = normalize.DefaultWindow
	}
	deps.Logger = deps.Logger.With().Str("component", "news").Logger()
	return &News{deps: deps, store: store, opts: opts}
}

// Run executes one news run. A persisted result carries the retained items.
func (n *News) Run(ctx context.Context) (res Result) {
	r := n.deps.begin(SourceNews)
	defer r.finish(ctx, &res)

	r.enter(StageFetching)
	resp, err := n.deps.Fetcher.Fetch(ctx, func(int) fetcher.Request {
		return fetcher.Request{URL: n.opts.URL}
	})
	r.recordAttempts(resp, err)
	if err != nil {
		return r.fail(fmt.Errorf("fetch news: %w", err))
	}

	r.enter(StageParsing)
	feed, err := envelope.ParseFeed(resp.Body)
	if err != nil {
		return r.fail(err)
	}

	r.enter(StageNormalizing)
	items, stats := normalize.News(feed, r.now, n.opts.Window, n.opts.Location)
	r.res.RecordsConsidered = stats.Kept
	r.res.RecordsDropped = stats.Dropped()
	r.logger.Debug().
		Int("total", stats.Total).
		Int("dropped_date", stats.DroppedDate).
		Int("dropped_stale", stats.DroppedStale).
		Int("dropped_guid", stats.DroppedGUID).
		Msg("feed items filtered")

	guids := make([]string, len(items))
	for i, it := range items {
		guids[i] = it.GUID
	}

	result := r.gateAndPersist(ctx, n.opts.GateKey, gate.FingerprintKeys(guids), func(ctx context.Context) (int, error) {
		return n.store.InsertNews(ctx, items)
	})
	if result.Status == StatusPersisted {
		result.Items = items
		r.res.Items = items
	}
	return result
}
