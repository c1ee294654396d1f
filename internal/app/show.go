package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"feedsync/internal/service"
	"feedsync/internal/storage"
)

// Show prints the most recent persisted rows of a source.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return show(ctx, os.Stdout, store, opts)
}

func show(ctx context.Context, out io.Writer, store storage.Reader, opts ShowOptions) error {
	switch opts.Source {
	case service.SourceQuotes:
		quotes, err := store.ListRecentQuotes(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(quotes) == 0 {
			fmt.Fprintln(out, "no quotes found")
			return nil
		}
		renderQuotes(out, quotes)
	case service.SourceNews:
		items, err := store.ListRecentNews(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(out, "no news found")
			return nil
		}
		renderNews(out, items)
	default:
		return fmt.Errorf("unknown source %q", opts.Source)
	}
	return nil
}

func renderQuotes(out io.Writer, quotes []storage.Quote) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Date", "Code", "Name", "Trade", "Change%", "High", "Low", "Volume", "Amount"})
	for _, q := range quotes {
		t.AppendRow(table.Row{
			q.Date.Format(storage.DateLayout),
			q.Code,
			q.Name,
			formatFloat(q.Trade, 3),
			formatFloat(q.ChangePercent, 2),
			formatFloat(q.High, 3),
			formatFloat(q.Low, 3),
			formatInt(q.Volume),
			formatInt(q.Amount),
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func renderNews(out io.Writer, items []storage.NewsItem) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Published", "Title", "Link"})
	for _, it := range items {
		t.AppendRow(table.Row{it.PubDateText, sanitizeInline(it.Title), it.Link})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func formatFloat(v float64, places int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', places, 64)
}

func formatInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
