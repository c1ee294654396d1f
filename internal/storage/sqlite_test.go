package storage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newMemoryDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite("sqlite", ":memory:", time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func int64p(n int64) *int64 { return &n }

func sampleQuotes(day time.Time, trade float64) []Quote {
	codes := []string{"510300", "510500", "159915"}
	quotes := make([]Quote, 0, len(codes))
	for _, code := range codes {
		quotes = append(quotes, Quote{
			Code: code, Date: day, Name: "ETF" + code,
			Trade: trade, PriceChange: 0.01, ChangePercent: 0.3,
			Bid: trade - 0.001, Ask: trade + 0.001, Settlement: trade - 0.01,
			Open: trade, High: trade + 0.02, Low: trade - 0.02,
			Volume: int64p(1000), Amount: int64p(3500),
		})
	}
	return quotes
}

func TestUpsertQuotesReplaceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newMemoryDB(t)
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	n, err := db.UpsertQuotes(ctx, sampleQuotes(day, 3.5))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = db.UpsertQuotes(ctx, sampleQuotes(day, 3.6))
	require.NoError(t, err)
	require.Equal(t, 3, n, "replace 也计入写入行数")

	stored, err := db.ListRecentQuotes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 3, "同一交易日重复写入后每个代码只应保留一行")
	for _, q := range stored {
		require.InDelta(t, 3.6, q.Trade, 1e-9, "应以最后一次写入为准")
		require.True(t, q.Date.Equal(day))
	}
}

func TestInsertNewsIgnoreKeepsFirstWrite(t *testing.T) {
	ctx := context.Background()
	db := newMemoryDB(t)
	first := NewsItem{GUID: "g-1", Title: "first", Link: "https://example.com/1", PubDateText: "2026-10-15 11:30:00"}
	second := first
	second.Title = "second"

	n, err := db.InsertNews(ctx, []NewsItem{first})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = db.InsertNews(ctx, []NewsItem{second})
	require.NoError(t, err)
	require.Zero(t, n, "已存在的 guid 不应计入写入")

	items, err := db.ListRecentNews(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "first", items[0].Title)
	require.Equal(t, time.Date(2026, 10, 15, 11, 30, 0, 0, time.UTC), items[0].PubDate)
}

func TestUpsertEmptyBatchIsNoop(t *testing.T) {
	var unopened *SQLite
	n, err := unopened.Upsert(context.Background(), QuoteTable, nil, ReplaceOnConflict)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = unopened.UpsertQuotes(context.Background(), sampleQuotes(time.Now(), 1))
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestUpsertRejectsRowWidthMismatch(t *testing.T) {
	db := newMemoryDB(t)
	_, err := db.Upsert(context.Background(), NewsTable, [][]any{{"only-guid"}}, IgnoreOnConflict)
	require.ErrorIs(t, err, ErrRowWidth)
}

func TestUpsertRollsBackFailedBatch(t *testing.T) {
	ctx := context.Background()
	db := newMemoryDB(t)
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	rows := quoteRows(sampleQuotes(day, 3.5)[:2], true)
	rows[1][0] = nil // code NOT NULL without default aborts under OR REPLACE

	_, err := db.Upsert(ctx, QuoteTable, rows, ReplaceOnConflict)
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, 2, batchErr.Attempted)
	require.Equal(t, 1, batchErr.Succeeded)
	require.Equal(t, 1, batchErr.Failed)

	stored, err := db.ListRecentQuotes(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, stored, "失败的批次应整体回滚")
}

func TestQuoteNaNAndMissingVolumeStoredAsNull(t *testing.T) {
	ctx := context.Background()
	db := newMemoryDB(t)
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	q := sampleQuotes(day, 2.0)[0]
	q.Open = math.NaN()
	q.Volume = nil

	_, err := db.UpsertQuotes(ctx, []Quote{q})
	require.NoError(t, err)

	stored, err := db.ListRecentQuotes(ctx, 1)
	require.NoError(t, err)
	require.True(t, math.IsNaN(stored[0].Open))
	require.Nil(t, stored[0].Volume)
	require.EqualValues(t, 3500, *stored[0].Amount)
}

func TestGateKeyValue(t *testing.T) {
	ctx := context.Background()
	db := newMemoryDB(t)

	_, ok, err := db.Get(ctx, "fetchETF_MD5")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.Put(ctx, "fetchETF_MD5", "abc"))
	require.NoError(t, db.Put(ctx, "fetchETF_MD5", "def"))

	value, ok, err := db.Get(ctx, "fetchETF_MD5")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "def", value)
}

func TestListQuoteHistoryRange(t *testing.T) {
	ctx := context.Background()
	db := newMemoryDB(t)
	start := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := db.UpsertQuotes(ctx, sampleQuotes(start.AddDate(0, 0, i), 3+float64(i)/10))
		require.NoError(t, err)
	}

	points, err := db.ListQuoteHistory(ctx, "510300", start.AddDate(0, 0, 1), start.AddDate(0, 0, 4))
	require.NoError(t, err)
	require.Len(t, points, 3)
	require.True(t, points[0].Date.Equal(start.AddDate(0, 0, 1)))
	require.InDelta(t, 3.3, points[2].Trade, 1e-9)
}
