package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgGetGateSQL = `SELECT value FROM kv_gate WHERE key = $1;`

	pgPutGateSQL = `INSERT INTO kv_gate (key, value, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (key) DO UPDATE
    SET value      = EXCLUDED.value,
        updated_at = EXCLUDED.updated_at;`

	pgListRecentQuotesSQL = `SELECT
        code, date, name, trade, pricechange, changepercent,
        buy, sell, settlement, open, high, low, volume, amount
    FROM etf
    ORDER BY date DESC, code
    LIMIT $1;`

	pgListRecentNewsSQL = `SELECT guid, title, description, link, pubDate
    FROM news
    ORDER BY pubDate DESC
    LIMIT $1;`

	pgListQuoteHistorySQL = `SELECT code, date, name, trade, high, low
    FROM etf
    WHERE code = $1
      AND date >= $2
      AND date < $3
    ORDER BY date;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

var (
	_ Backend        = (*Postgres)(nil)
	_ AdvisoryLocker = (*Postgres)(nil)
)

// Postgres is the PostgreSQL backend.
type Postgres struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewPostgres wires a pgx pool into a Postgres backend. loc is used to render news timestamps.
func NewPostgres(pool *pgxpool.Pool, loc *time.Location) *Postgres {
	if loc == nil {
		loc = time.UTC
	}
	return &Postgres{pool: pool, loc: loc}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Migrate applies the embedded PostgreSQL schema.
func (s *Postgres) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock also ends with the connection
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Upsert queues every row into one pgx batch inside a transaction. The count
// returned is the number of rows the database reports as affected.
func (s *Postgres) Upsert(ctx context.Context, table Table, rows [][]any, policy ConflictPolicy) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := checkWidth(table, rows); err != nil {
		return 0, err
	}
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, newBatchError(table.Name, len(rows), 0, fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stmt := postgresUpsertSQL(table, policy)
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(stmt, row...)
	}

	results := tx.SendBatch(ctx, batch)
	written := 0
	for i := range rows {
		tag, execErr := results.Exec()
		if execErr != nil {
			_ = results.Close()
			return 0, newBatchError(table.Name, len(rows), i, execErr)
		}
		written += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, newBatchError(table.Name, len(rows), len(rows), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, newBatchError(table.Name, len(rows), 0, fmt.Errorf("commit: %w", err))
	}
	return written, nil
}

// UpsertQuotes replaces quotes keyed by (code, date).
func (s *Postgres) UpsertQuotes(ctx context.Context, quotes []Quote) (int, error) {
	return s.Upsert(ctx, QuoteTable, quoteRows(quotes, false), ReplaceOnConflict)
}

// InsertNews inserts news items, keeping rows that already exist.
func (s *Postgres) InsertNews(ctx context.Context, items []NewsItem) (int, error) {
	return s.Upsert(ctx, NewsTable, newsRows(items, false), IgnoreOnConflict)
}

// Get reads a gate value.
func (s *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", false, err
	}
	var value string
	if err := pool.QueryRow(ctx, pgGetGateSQL, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get gate value: %w", err)
	}
	return value, true, nil
}

// Put stores a gate value.
func (s *Postgres) Put(ctx context.Context, key, value string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgPutGateSQL, key, value); err != nil {
		return fmt.Errorf("put gate value: %w", err)
	}
	return nil
}

// ListRecentQuotes lists the latest quotes ordered by descending date.
func (s *Postgres) ListRecentQuotes(ctx context.Context, limit int) ([]Quote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pgListRecentQuotesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent quotes: %w", queryErr)
	}
	defer rows.Close()

	quotes := make([]Quote, 0, limit)
	for rows.Next() {
		var (
			scan quoteScan
			date time.Time
		)
		if err := rows.Scan(scan.dest(&date)...); err != nil {
			return nil, err
		}
		quotes = append(quotes, scan.quote(date))
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}

// ListRecentNews lists the latest news ordered by descending publication time.
func (s *Postgres) ListRecentNews(ctx context.Context, limit int) ([]NewsItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pgListRecentNewsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent news: %w", queryErr)
	}
	defer rows.Close()

	items := make([]NewsItem, 0, limit)
	for rows.Next() {
		var (
			it          NewsItem
			description sql.NullString
		)
		if err := rows.Scan(&it.GUID, &it.Title, &description, &it.Link, &it.PubDate); err != nil {
			return nil, err
		}
		it.Description = description.String
		it.PubDateText = it.PubDate.In(s.loc).Format(PubDateLayout)
		items = append(items, it)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// ListQuoteHistory lists one fund's quotes within [from, to).
func (s *Postgres) ListQuoteHistory(ctx context.Context, code string, from, to time.Time) ([]QuotePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pgListQuoteHistorySQL, code, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list quote history: %w", queryErr)
	}
	defer rows.Close()

	points := make([]QuotePoint, 0)
	for rows.Next() {
		var (
			p               QuotePoint
			trade, high, lo sql.NullFloat64
		)
		if err := rows.Scan(&p.Code, &p.Date, &p.Name, &trade, &high, &lo); err != nil {
			return nil, err
		}
		p.Trade, p.High, p.Low = floatOrNaN(trade), floatOrNaN(high), floatOrNaN(lo)
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}
