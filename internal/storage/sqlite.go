package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

const (
	sqliteGetGateSQL = `SELECT value FROM kv_gate WHERE key = ?;`
	sqlitePutGateSQL = `INSERT OR REPLACE INTO kv_gate (key, value, updated_at) VALUES (?, ?, ?);`

	sqliteListRecentQuotesSQL = `SELECT
        code, date, name, trade, pricechange, changepercent,
        buy, sell, settlement, open, high, low, volume, amount
    FROM etf
    ORDER BY date DESC, code
    LIMIT ?;`

	sqliteListRecentNewsSQL = `SELECT guid, title, description, link, pubDate
    FROM news
    ORDER BY pubDate DESC
    LIMIT ?;`

	sqliteListQuoteHistorySQL = `SELECT code, date, name, trade, high, low
    FROM etf
    WHERE code = ?
      AND date >= ?
      AND date < ?
    ORDER BY date;`
)

var _ Backend = (*SQLite)(nil)

// SQLite is the backend for local sqlite files and remote libsql databases.
// Dates are stored as text: DateLayout for quotes, PubDateLayout for news.
type SQLite struct {
	db  *sql.DB
	loc *time.Location
}

// OpenSQLite opens a database with the given driver name ("sqlite" or "libsql").
func OpenSQLite(driver, dsn string, loc *time.Location) (*SQLite, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// one connection keeps :memory: databases shared and serialises writers
		db.SetMaxOpenConns(1)
	}
	return NewSQLite(db, loc), nil
}

// NewSQLite wraps an open database handle.
func NewSQLite(db *sql.DB, loc *time.Location) *SQLite {
	if loc == nil {
		loc = time.UTC
	}
	return &SQLite{db: db, loc: loc}
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// Migrate applies the embedded sqlite schema.
func (s *SQLite) Migrate(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

// Upsert executes one prepared statement per row inside a single transaction.
func (s *SQLite) Upsert(ctx context.Context, table Table, rows [][]any, policy ConflictPolicy) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := checkWidth(table, rows); err != nil {
		return 0, err
	}
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, newBatchError(table.Name, len(rows), 0, fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertSQL(table, policy))
	if err != nil {
		return 0, newBatchError(table.Name, len(rows), 0, fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	written := 0
	for i, row := range rows {
		res, execErr := stmt.ExecContext(ctx, row...)
		if execErr != nil {
			return 0, newBatchError(table.Name, len(rows), i, execErr)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, newBatchError(table.Name, len(rows), 0, fmt.Errorf("commit: %w", err))
	}
	return written, nil
}

// UpsertQuotes replaces quotes keyed by (code, date).
func (s *SQLite) UpsertQuotes(ctx context.Context, quotes []Quote) (int, error) {
	return s.Upsert(ctx, QuoteTable, quoteRows(quotes, true), ReplaceOnConflict)
}

// InsertNews inserts news items, keeping rows that already exist.
func (s *SQLite) InsertNews(ctx context.Context, items []NewsItem) (int, error) {
	return s.Upsert(ctx, NewsTable, newsRows(items, true), IgnoreOnConflict)
}

// Get reads a gate value.
func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return "", false, err
	}
	var value string
	if err := db.QueryRowContext(ctx, sqliteGetGateSQL, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get gate value: %w", err)
	}
	return value, true, nil
}

// Put stores a gate value.
func (s *SQLite) Put(ctx context.Context, key, value string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	updated := time.Now().UTC().Format(time.RFC3339)
	if _, err := db.ExecContext(ctx, sqlitePutGateSQL, key, value, updated); err != nil {
		return fmt.Errorf("put gate value: %w", err)
	}
	return nil
}

// ListRecentQuotes lists the latest quotes ordered by descending date.
func (s *SQLite) ListRecentQuotes(ctx context.Context, limit int) ([]Quote, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, sqliteListRecentQuotesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent quotes: %w", err)
	}
	defer rows.Close()

	quotes := make([]Quote, 0, limit)
	for rows.Next() {
		var (
			scan quoteScan
			date string
		)
		if err := rows.Scan(scan.dest(&date)...); err != nil {
			return nil, err
		}
		day, err := time.ParseInLocation(DateLayout, date, s.loc)
		if err != nil {
			return nil, fmt.Errorf("parse quote date %q: %w", date, err)
		}
		quotes = append(quotes, scan.quote(day))
	}
	return quotes, rows.Err()
}

// ListRecentNews lists the latest news ordered by descending publication time.
func (s *SQLite) ListRecentNews(ctx context.Context, limit int) ([]NewsItem, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, sqliteListRecentNewsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent news: %w", err)
	}
	defer rows.Close()

	items := make([]NewsItem, 0, limit)
	for rows.Next() {
		var (
			it          NewsItem
			description sql.NullString
		)
		if err := rows.Scan(&it.GUID, &it.Title, &description, &it.Link, &it.PubDateText); err != nil {
			return nil, err
		}
		it.Description = description.String
		if published, err := time.ParseInLocation(PubDateLayout, it.PubDateText, s.loc); err == nil {
			it.PubDate = published
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListQuoteHistory lists one fund's quotes within [from, to).
func (s *SQLite) ListQuoteHistory(ctx context.Context, code string, from, to time.Time) ([]QuotePoint, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, sqliteListQuoteHistorySQL, code,
		from.In(s.loc).Format(DateLayout), to.In(s.loc).Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("list quote history: %w", err)
	}
	defer rows.Close()

	points := make([]QuotePoint, 0)
	for rows.Next() {
		var (
			p               QuotePoint
			date            string
			trade, high, lo sql.NullFloat64
		)
		if err := rows.Scan(&p.Code, &date, &p.Name, &trade, &high, &lo); err != nil {
			return nil, err
		}
		p.Date, err = time.ParseInLocation(DateLayout, date, s.loc)
		if err != nil {
			return nil, fmt.Errorf("parse quote date %q: %w", date, err)
		}
		p.Trade, p.High, p.Low = floatOrNaN(trade), floatOrNaN(high), floatOrNaN(lo)
		points = append(points, p)
	}
	return points, rows.Err()
}
