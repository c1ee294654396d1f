package storage

import (
	"time"
)

// DateLayout is the trading-day representation used in the etf table.
const DateLayout = "2006-01-02"

// PubDateLayout is the canonical news timestamp representation.
const PubDateLayout = "2006-01-02 15:04:05"

// Quote is one fund quote for a trading day, keyed by (Code, Date).
type Quote struct {
	Code          string    `json:"code"`
	Date          time.Time `json:"date"`
	Name          string    `json:"name"`
	Trade         float64   `json:"trade"`
	PriceChange   float64   `json:"priceChange"`
	ChangePercent float64   `json:"changePercent"`
	Bid           float64   `json:"bid"`
	Ask           float64   `json:"ask"`
	Settlement    float64   `json:"settlement"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	// Volume and Amount are nil when upstream sent a non-numeric value.
	Volume *int64 `json:"volume"`
	Amount *int64 `json:"amount"`
}

// NewsItem is one feed entry keyed by GUID.
type NewsItem struct {
	GUID        string    `json:"guid"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Link        string    `json:"link"`
	PubDate     time.Time `json:"-"`
	// PubDateText is PubDate rendered with PubDateLayout in the run's location.
	PubDateText string `json:"pubDate"`
}

// QuotePoint is a trade observation used for history export.
type QuotePoint struct {
	Code  string
	Date  time.Time
	Name  string
	Trade float64
	High  float64
	Low   float64
}
