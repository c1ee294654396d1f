package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"feedsync/internal/storage"
)

var csvHeader = []string{"date", "code", "name", "trade", "high", "low"}

// Export renders one fund's quote history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	switch {
	case opts.Code == "":
		return errors.New("--code is required")
	case opts.CSVPath == "" && opts.PNGPath == "":
		return errors.New("at least one of --csv or --png must be provided")
	}

	from, to, err := exportWindow(opts, time.Now(), a.location())
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	points, err := store.ListQuoteHistory(ctx, opts.Code, from, to)
	if err != nil {
		return fmt.Errorf("load history of %s: %w", opts.Code, err)
	}
	log := a.Logger.With().Str("code", opts.Code).Time("from", from).Time("to", to).Logger()
	if len(points) == 0 {
		log.Info().Msg("no quotes found for export window")
		return nil
	}

	points = downsamplePoints(points, a.Config.ResolveMaxPoints(opts.MaxPoints))
	log.Info().Int("exported", len(points)).Msg("exporting quotes")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, points); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, opts.Code, points); err != nil {
			return fmt.Errorf("write png: %w", err)
		}
	}
	return nil
}

// exportWindow defaults to the year ending tomorrow so today's row is included.
func exportWindow(opts ExportOptions, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	to := now.In(loc).AddDate(0, 0, 1)
	if opts.To != nil {
		to = opts.To.In(loc)
	}
	from := to.AddDate(-1, 0, 0)
	if opts.From != nil {
		from = opts.From.In(loc)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from %s must be before to %s", from.Format(storage.DateLayout), to.Format(storage.DateLayout))
	}
	return from, to, nil
}

// downsamplePoints splits points into max equal buckets and keeps the last day
// of each, so the latest close always survives.
func downsamplePoints(points []storage.QuotePoint, max int) []storage.QuotePoint {
	n := len(points)
	if max <= 0 || n <= max {
		return points
	}
	out := make([]storage.QuotePoint, 0, max)
	for b := 1; b <= max; b++ {
		end := int(math.Ceil(float64(b)*float64(n)/float64(max))) - 1
		out = append(out, points[end])
	}
	return out
}

func writePointsCSV(path string, points []storage.QuotePoint) error {
	file, err := createFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	records := make([][]string, 0, len(points)+1)
	records = append(records, csvHeader)
	for _, p := range points {
		records = append(records, []string{
			p.Date.Format(storage.DateLayout),
			p.Code,
			p.Name,
			formatFloat(p.Trade, 3),
			formatFloat(p.High, 3),
			formatFloat(p.Low, 3),
		})
	}
	return csv.NewWriter(file).WriteAll(records)
}

func writePointsPNG(path, code string, points []storage.QuotePoint) error {
	trade := chart.TimeSeries{Name: "Trade", Style: chart.Style{StrokeWidth: 2}}
	high := chart.TimeSeries{Name: "High", Style: chart.Style{StrokeDashArray: []float64{4, 2}}}
	low := chart.TimeSeries{Name: "Low", Style: chart.Style{StrokeDashArray: []float64{4, 2}}}
	for _, p := range points {
		if !finite(p.Trade) {
			continue
		}
		trade.XValues = append(trade.XValues, p.Date)
		trade.YValues = append(trade.YValues, p.Trade)
		high.XValues = append(high.XValues, p.Date)
		high.YValues = append(high.YValues, orElse(p.High, p.Trade))
		low.XValues = append(low.XValues, p.Date)
		low.YValues = append(low.YValues, orElse(p.Low, p.Trade))
	}
	if len(trade.XValues) < 2 {
		return errors.New("need at least two priced days to render a chart")
	}

	graph := chart.Chart{
		Title:  code,
		Width:  1280,
		Height: 720,
		XAxis:  chart.XAxis{ValueFormatter: chart.TimeDateValueFormatter},
		YAxis: chart.YAxis{
			Name: "Price",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.3f")
			},
		},
		Series: []chart.Series{trade, high, low},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := createFile(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return graph.Render(chart.PNG, file)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func orElse(v, fallback float64) float64 {
	if finite(v) {
		return v
	}
	return fallback
}

// createFile creates path and any missing parent directories.
func createFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}
