// Package normalize maps decoded upstream payloads into typed, validated rows.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"feedsync/internal/envelope"
	"feedsync/internal/storage"
)

// ErrUnexpectedShape means the envelope decoded but is not a list of quote objects.
var ErrUnexpectedShape = errors.New("unexpected payload shape")

// QuoteStats counts what happened to each upstream entry.
type QuoteStats struct {
	Total        int
	Kept         int
	DroppedTrade int
	DroppedCode  int
}

// Dropped is the total number of entries filtered out.
func (s QuoteStats) Dropped() int {
	return s.DroppedTrade + s.DroppedCode
}

// Quotes maps a quote list envelope into rows for the given trading date.
// Rows with an empty code or a zero/non-finite trade are dropped and counted.
func Quotes(env envelope.Envelope, date time.Time) ([]storage.Quote, QuoteStats, error) {
	entries, ok := env.Value.([]any)
	if !ok {
		return nil, QuoteStats{}, fmt.Errorf("%w: want array, got %T", ErrUnexpectedShape, env.Value)
	}

	stats := QuoteStats{Total: len(entries)}
	quotes := make([]storage.Quote, 0, len(entries))
	for i, entry := range entries {
		fields, ok := entry.(map[string]any)
		if !ok {
			return nil, QuoteStats{}, fmt.Errorf("%w: entry %d is %T", ErrUnexpectedShape, i, entry)
		}

		q := mapQuote(fields, date)
		switch {
		case q.Code == "":
			stats.DroppedCode++
			continue
		case q.Trade == 0 || math.IsNaN(q.Trade) || math.IsInf(q.Trade, 0):
			stats.DroppedTrade++
			continue
		}
		quotes = append(quotes, q)
	}
	stats.Kept = len(quotes)
	return quotes, stats, nil
}

func mapQuote(f map[string]any, date time.Time) storage.Quote {
	return storage.Quote{
		Code:          strings.TrimSpace(text(f["code"])),
		Date:          date,
		Name:          strings.TrimSpace(text(f["name"])),
		Trade:         parseFloat(f["trade"]),
		PriceChange:   parseFloat(f["pricechange"]),
		ChangePercent: parseFloat(f["changepercent"]),
		Bid:           parseFloat(f["buy"]),
		Ask:           parseFloat(f["sell"]),
		Settlement:    parseFloat(f["settlement"]),
		Open:          parseFloat(f["open"]),
		High:          parseFloat(f["high"]),
		Low:           parseFloat(f["low"]),
		Volume:        parseInt(f["volume"]),
		Amount:        parseInt(f["amount"]),
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// parseFloat yields NaN for anything that is not a number.
func parseFloat(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	s := strings.TrimSpace(text(v))
	if s == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// parseInt truncates toward zero and yields nil for non-numeric or out-of-range input.
func parseInt(v any) *int64 {
	s := strings.TrimSpace(text(v))
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	whole := d.Truncate(0).BigInt()
	if !whole.IsInt64() {
		return nil
	}
	n := whole.Int64()
	return &n
}
