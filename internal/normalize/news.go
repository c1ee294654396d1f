package normalize

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"feedsync/internal/envelope"
	"feedsync/internal/storage"
)

var (
	titleRe       = regexp.MustCompile(`(?s)<title>(.*?)</title>`)
	descriptionRe = regexp.MustCompile(`(?s)<description>(.*?)</description>`)
	linkRe        = regexp.MustCompile(`(?s)<link>(.*?)</link>`)
	guidRe        = regexp.MustCompile(`(?s)<guid[^>]*>(.*?)</guid>`)
	pubDateRe     = regexp.MustCompile(`(?s)<pubDate>(.*?)</pubDate>`)
	cdataRe       = regexp.MustCompile(`^<!\[CDATA\[|\]\]>$`)
)

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Window bounds which publication dates are kept.
type Window struct {
	Retention  time.Duration
	FutureSkew time.Duration
}

// DefaultWindow keeps the last two days.
var DefaultWindow = Window{Retention: 48 * time.Hour, FutureSkew: 5 * time.Minute}

// NewsStats counts what happened to each feed item.
type NewsStats struct {
	Total        int
	Kept         int
	DroppedDate  int
	DroppedStale int
	DroppedGUID  int
}

// Dropped is the total number of items filtered out.
func (s NewsStats) Dropped() int {
	return s.DroppedDate + s.DroppedStale + s.DroppedGUID
}

// News extracts items from a feed and keeps those published within the window ending at now.
func News(feed envelope.Feed, now time.Time, window Window, loc *time.Location) ([]storage.NewsItem, NewsStats) {
	if loc == nil {
		loc = time.Local
	}
	oldest := now.Add(-window.Retention)
	newest := now.Add(window.FutureSkew)

	stats := NewsStats{Total: len(feed.Items)}
	items := make([]storage.NewsItem, 0, len(feed.Items))
	for _, block := range feed.Items {
		guid := plainText(field(guidRe, block))
		if guid == "" {
			stats.DroppedGUID++
			continue
		}

		published, ok := parsePubDate(field(pubDateRe, block))
		if !ok {
			stats.DroppedDate++
			continue
		}
		if published.Before(oldest) || published.After(newest) {
			stats.DroppedStale++
			continue
		}

		items = append(items, storage.NewsItem{
			GUID:        guid,
			Title:       plainText(field(titleRe, block)),
			Description: stripMarkup(field(descriptionRe, block)),
			Link:        plainText(field(linkRe, block)),
			PubDate:     published,
			PubDateText: published.In(loc).Format(storage.PubDateLayout),
		})
	}
	stats.Kept = len(items)
	return items, stats
}

func field(re *regexp.Regexp, block string) string {
	m := re.FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// plainText removes a CDATA wrapper, or decodes entities when there was none.
func plainText(s string) string {
	if unwrapped, ok := stripCDATA(s); ok {
		return strings.TrimSpace(unwrapped)
	}
	return strings.TrimSpace(html.UnescapeString(s))
}

func stripCDATA(s string) (string, bool) {
	if !strings.HasPrefix(s, "<![CDATA[") {
		return s, false
	}
	return cdataRe.ReplaceAllString(s, ""), true
}

// stripMarkup returns the text content of an HTML fragment.
func stripMarkup(s string) string {
	s = plainText(s)
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}

// rfc822Zones are the named zones RFC 822 allows. time.Parse gives unknown
// abbreviations a zero offset, and CST collides with China Standard Time.
var rfc822Zones = map[string]int{
	"UT": 0, "UTC": 0, "GMT": 0, "Z": 0,
	"EST": -5, "EDT": -4,
	"CST": -6, "CDT": -5,
	"MST": -7, "MDT": -6,
	"PST": -8, "PDT": -7,
}

func parsePubDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range pubDateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if !strings.Contains(layout, "MST") {
			return t, true
		}
		return withNamedZone(t)
	}
	return time.Time{}, false
}

// withNamedZone pins t to the RFC 822 offset of its zone abbreviation.
// Abbreviations outside that set are rejected.
func withNamedZone(t time.Time) (time.Time, bool) {
	name, _ := t.Zone()
	hours, ok := rfc822Zones[name]
	if !ok {
		return time.Time{}, false
	}
	zone := time.FixedZone(name, hours*3600)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), zone), true
}
