package storage

import (
	"database/sql"
	"math"
	"time"
)

// quoteRows flattens quotes into QuoteTable column order. The date is passed
// as a time.Time for engines with a DATE type and as text otherwise.
func quoteRows(quotes []Quote, dateAsText bool) [][]any {
	rows := make([][]any, 0, len(quotes))
	for _, q := range quotes {
		var date any = q.Date
		if dateAsText {
			date = q.Date.Format(DateLayout)
		}
		rows = append(rows, []any{
			q.Code, date, q.Name,
			nullableFloat(q.Trade), nullableFloat(q.PriceChange), nullableFloat(q.ChangePercent),
			nullableFloat(q.Bid), nullableFloat(q.Ask), nullableFloat(q.Settlement),
			nullableFloat(q.Open), nullableFloat(q.High), nullableFloat(q.Low),
			nullableInt(q.Volume), nullableInt(q.Amount),
		})
	}
	return rows
}

// newsRows flattens items into NewsTable column order.
func newsRows(items []NewsItem, dateAsText bool) [][]any {
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		var published any = it.PubDate
		if dateAsText {
			published = it.PubDateText
		}
		rows = append(rows, []any{it.GUID, it.Title, it.Description, it.Link, published})
	}
	return rows
}

// nullableFloat stores NaN and infinities as NULL.
func nullableFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func nullableInt(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func intOrNil(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// quoteScan holds the nullable columns shared by every quote query.
type quoteScan struct {
	code, name                                          string
	trade, pricechange, changepercent, bid, ask, settle sql.NullFloat64
	open, high, low                                     sql.NullFloat64
	volume, amount                                      sql.NullInt64
}

func (s *quoteScan) dest(date any) []any {
	return []any{
		&s.code, date, &s.name,
		&s.trade, &s.pricechange, &s.changepercent,
		&s.bid, &s.ask, &s.settle,
		&s.open, &s.high, &s.low,
		&s.volume, &s.amount,
	}
}

func (s *quoteScan) quote(date time.Time) Quote {
	return Quote{
		Code:          s.code,
		Date:          date,
		Name:          s.name,
		Trade:         floatOrNaN(s.trade),
		PriceChange:   floatOrNaN(s.pricechange),
		ChangePercent: floatOrNaN(s.changepercent),
		Bid:           floatOrNaN(s.bid),
		Ask:           floatOrNaN(s.ask),
		Settlement:    floatOrNaN(s.settle),
		Open:          floatOrNaN(s.open),
		High:          floatOrNaN(s.high),
		Low:           floatOrNaN(s.low),
		Volume:        intOrNil(s.volume),
		Amount:        intOrNil(s.amount),
	}
}
