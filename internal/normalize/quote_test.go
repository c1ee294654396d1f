package normalize

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feedsync/internal/envelope"
)

func parseEnvelope(t *testing.T, body string) envelope.Envelope {
	t.Helper()
	env, err := envelope.NewParser().Parse(body, "")
	require.NoError(t, err)
	return env
}

func TestQuotesMapsFields(t *testing.T) {
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	env := parseEnvelope(t, `[{"symbol":"sh510300","code":"510300","name":"沪深300ETF","trade":"3.50",
		"pricechange":"0.020","changepercent":"0.575","buy":"3.499","sell":"3.501","settlement":"3.480",
		"open":"3.482","high":"3.512","low":"3.470","volume":"1000","amount":"3500.9"}]`)

	quotes, stats, err := Quotes(env, day)
	require.NoError(t, err)
	require.Equal(t, QuoteStats{Total: 1, Kept: 1}, stats)
	require.Len(t, quotes, 1)

	q := quotes[0]
	require.Equal(t, "510300", q.Code)
	require.Equal(t, day, q.Date)
	require.Equal(t, "沪深300ETF", q.Name)
	require.InDelta(t, 3.50, q.Trade, 1e-9)
	require.InDelta(t, 0.575, q.ChangePercent, 1e-9)
	require.InDelta(t, 3.499, q.Bid, 1e-9)
	require.InDelta(t, 3.501, q.Ask, 1e-9)
	require.EqualValues(t, 1000, *q.Volume)
	require.EqualValues(t, 3500, *q.Amount, "amount 应按整数截断")
}

func TestQuotesDropsInvalidTrade(t *testing.T) {
	env := parseEnvelope(t, `[
		{"code":"510300","trade":"3.50","volume":"1"},
		{"code":"510310","trade":"0.000","volume":"1"},
		{"code":"510320","trade":"--","volume":"1"},
		{"code":"510330","trade":"","volume":"1"},
		{"code":"","trade":"1.2"},
		{"code":"510340","trade":1.25,"volume":"n/a"}
	]`)

	quotes, stats, err := Quotes(env, time.Now())
	require.NoError(t, err)
	require.Equal(t, 6, stats.Total)
	require.Equal(t, 3, stats.DroppedTrade)
	require.Equal(t, 1, stats.DroppedCode)
	require.Equal(t, 4, stats.Dropped())
	require.Equal(t, 2, stats.Kept)

	for _, q := range quotes {
		require.False(t, q.Trade == 0 || math.IsNaN(q.Trade) || math.IsInf(q.Trade, 0), "不应输出无效 trade: %s", q.Code)
		require.NotEmpty(t, q.Code)
	}
	require.Nil(t, quotes[1].Volume, "非数值 volume 应保留为 nil")
}

func TestQuotesKeepsNaNInSecondaryFields(t *testing.T) {
	env := parseEnvelope(t, `[{"code":"159001","trade":"100.01","open":"","high":null}]`)

	quotes, _, err := Quotes(env, time.Now())
	require.NoError(t, err)
	require.True(t, math.IsNaN(quotes[0].Open))
	require.True(t, math.IsNaN(quotes[0].High))
}

func TestQuotesRejectsUnexpectedShape(t *testing.T) {
	_, _, err := Quotes(parseEnvelope(t, `{"data":[]}`), time.Now())
	require.ErrorIs(t, err, ErrUnexpectedShape)

	_, _, err = Quotes(parseEnvelope(t, `["510300"]`), time.Now())
	require.ErrorIs(t, err, ErrUnexpectedShape)
}

func TestQuotesOutOfRangeIntegersBecomeNil(t *testing.T) {
	env := parseEnvelope(t, `[{"code":"510300","trade":"3.5","volume":"1e30","amount":"-9.7"}]`)

	quotes, _, err := Quotes(env, time.Now())
	require.NoError(t, err)
	require.Nil(t, quotes[0].Volume, "超出 int64 的 volume 不应回绕")
	require.NotNil(t, quotes[0].Amount)
	require.EqualValues(t, -9, *quotes[0].Amount, "应向零截断")
}
