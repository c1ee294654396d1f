package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotConfigured indicates the storage handle was not initialised.
	ErrNotConfigured = errors.New("storage: not configured")
	// ErrRowWidth means a row does not match the table's column count.
	ErrRowWidth = errors.New("storage: row width does not match table columns")
)

// ConflictPolicy decides what happens when a row's natural key already exists.
type ConflictPolicy int

const (
	// IgnoreOnConflict keeps the existing row (first write wins).
	IgnoreOnConflict ConflictPolicy = iota
	// ReplaceOnConflict overwrites the existing row (last write wins).
	ReplaceOnConflict
)

func (p ConflictPolicy) String() string {
	if p == ReplaceOnConflict {
		return "replace"
	}
	return "ignore"
}

// Table names a destination table, its columns and its natural key.
type Table struct {
	Name    string
	Columns []string
	Keys    []string
}

// QuoteTable stores one row per fund per trading day.
var QuoteTable = Table{
	Name: "etf",
	Columns: []string{
		"code", "date", "name", "trade", "pricechange", "changepercent",
		"buy", "sell", "settlement", "open", "high", "low", "volume", "amount",
	},
	Keys: []string{"code", "date"},
}

// NewsTable stores one row per feed item.
var NewsTable = Table{
	Name:    "news",
	Columns: []string{"guid", "title", "description", "link", "pubDate"},
	Keys:    []string{"guid"},
}

// BatchError reports a failed batch. The batch ran in one transaction which was
// rolled back, so Succeeded counts statements that executed before the failure.
type BatchError struct {
	Table     string
	Attempted int
	Succeeded int
	Failed    int
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch write to %s failed (%d ok, %d failed of %d, rolled back): %v",
		e.Table, e.Succeeded, e.Failed, e.Attempted, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

func newBatchError(table string, attempted, succeeded int, err error) *BatchError {
	return &BatchError{
		Table:     table,
		Attempted: attempted,
		Succeeded: succeeded,
		Failed:    attempted - succeeded,
		Err:       err,
	}
}

// Upserter applies a set of rows as one batch under a conflict policy.
type Upserter interface {
	Upsert(ctx context.Context, table Table, rows [][]any, policy ConflictPolicy) (int, error)
}

// QuoteWriter persists quote rows.
type QuoteWriter interface {
	UpsertQuotes(ctx context.Context, quotes []Quote) (int, error)
}

// NewsWriter persists news rows.
type NewsWriter interface {
	InsertNews(ctx context.Context, items []NewsItem) (int, error)
}

// Reader lists persisted rows for the CLI.
type Reader interface {
	ListRecentQuotes(ctx context.Context, limit int) ([]Quote, error)
	ListRecentNews(ctx context.Context, limit int) ([]NewsItem, error)
	ListQuoteHistory(ctx context.Context, code string, from, to time.Time) ([]QuotePoint, error)
}

// KV is the gate key-value contract.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// Backend is a complete storage engine.
type Backend interface {
	Upserter
	QuoteWriter
	NewsWriter
	Reader
	KV
	Migrate(ctx context.Context) error
	Close() error
}

// postgresUpsertSQL renders a $n-placeholder statement with ON CONFLICT handling.
func postgresUpsertSQL(t Table, policy ConflictPolicy) string {
	placeholders := make([]string, len(t.Columns))
	for i := range t.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		t.Name, strings.Join(t.Columns, ", "), strings.Join(placeholders, ", "), strings.Join(t.Keys, ", "))

	if policy == IgnoreOnConflict {
		b.WriteString("DO NOTHING")
		return b.String()
	}

	keys := make(map[string]struct{}, len(t.Keys))
	for _, k := range t.Keys {
		keys[k] = struct{}{}
	}
	sets := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if _, isKey := keys[c]; isKey {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	if len(sets) == 0 {
		b.WriteString("DO NOTHING")
		return b.String()
	}
	b.WriteString("DO UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

// sqliteUpsertSQL renders an INSERT OR IGNORE / INSERT OR REPLACE statement.
func sqliteUpsertSQL(t Table, policy ConflictPolicy) string {
	verb := "INSERT OR IGNORE"
	if policy == ReplaceOnConflict {
		verb = "INSERT OR REPLACE"
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	return fmt.Sprintf("%s INTO %s (%s) VALUES (%s)", verb, t.Name, strings.Join(t.Columns, ", "), placeholders)
}

func checkWidth(t Table, rows [][]any) error {
	for i, row := range rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%w: row %d has %d values, %s has %d columns", ErrRowWidth, i, len(row), t.Name, len(t.Columns))
		}
	}
	return nil
}
