package normalize

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feedsync/internal/envelope"
)

func rssItem(guid, title, description, pubDate string) string {
	return fmt.Sprintf(`<item>
<title>%s</title>
<link>https://cn.wsj.com/articles/%s</link>
<description>%s</description>
<guid isPermaLink="false">%s</guid>
<pubDate>%s</pubDate>
</item>`, title, guid, description, guid, pubDate)
}

func feedOf(t *testing.T, items ...string) envelope.Feed {
	t.Helper()
	feed, err := envelope.ParseFeed(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel>` +
		strings.Join(items, "\n") + `</channel></rss>`)
	require.NoError(t, err)
	return feed
}

func TestNewsRetentionWindow(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	feed := feedOf(t,
		rssItem("old", "三天前", "x", now.Add(-72*time.Hour).Format(time.RFC1123Z)),
		rssItem("fresh", "一小时前", "y", now.Add(-time.Hour).Format(time.RFC1123Z)),
		rssItem("edge", "两天内", "z", now.Add(-47*time.Hour).Format(time.RFC1123)),
	)

	items, stats := News(feed, now, DefaultWindow, time.UTC)
	require.Equal(t, 1, stats.DroppedStale)
	require.Equal(t, 2, stats.Kept)

	guids := []string{items[0].GUID, items[1].GUID}
	require.Equal(t, []string{"fresh", "edge"}, guids, "应保持 feed 原始顺序")
	for _, it := range items {
		require.False(t, it.PubDate.Before(now.Add(-48*time.Hour)), "不应输出超过两天的新闻")
	}
}

func TestNewsCleansFields(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	loc := time.FixedZone("CST", 8*3600)
	feed := feedOf(t, rssItem(
		"g-1",
		"<![CDATA[美联储维持利率不变]]>",
		"<![CDATA[<p>美联储<b>周三</b>宣布 &amp; 维持利率。</p>]]>",
		"Wed, 15 Oct 2026 03:30:00 +0000",
	))

	items, stats := News(feed, now, DefaultWindow, loc)
	require.Equal(t, 1, stats.Kept)

	it := items[0]
	require.Equal(t, "美联储维持利率不变", it.Title)
	require.Equal(t, "美联储周三宣布 & 维持利率。", it.Description)
	require.Equal(t, "https://cn.wsj.com/articles/g-1", it.Link)
	require.Equal(t, "2026-10-15 11:30:00", it.PubDateText, "pubDate 应转换为本地时间格式")
}

func TestNewsEscapedMarkupWithoutCDATA(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	feed := feedOf(t, rssItem("g-2", "A &amp; B", "&lt;p&gt;hello&lt;/p&gt;", now.Format(time.RFC1123Z)))

	items, _ := News(feed, now, DefaultWindow, time.UTC)
	require.Equal(t, "A & B", items[0].Title)
	require.Equal(t, "hello", items[0].Description)
}

func TestNewsDropsUnparseableDatesAndMissingGUID(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	feed := feedOf(t,
		rssItem("bad-date", "t", "d", "yesterday-ish"),
		rssItem("", "t", "d", now.Format(time.RFC1123Z)),
		rssItem("future", "t", "d", now.Add(time.Hour).Format(time.RFC1123Z)),
	)

	items, stats := News(feed, now, DefaultWindow, time.UTC)
	require.Empty(t, items)
	require.Equal(t, NewsStats{Total: 3, DroppedDate: 1, DroppedGUID: 1, DroppedStale: 1}, stats)
	require.Equal(t, 3, stats.Dropped())
}

func TestNewsResolvesNamedZones(t *testing.T) {
	now := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	feed := feedOf(t,
		rssItem("est", "t", "d", "Wed, 14 Oct 2026 21:00:00 EST"),
		rssItem("pdt", "t", "d", "Thu, 15 Oct 2026 17:00:00 PDT"),
		rssItem("gmt", "t", "d", "Fri, 16 Oct 2026 08:00:00 GMT"),
		rssItem("unknown", "t", "d", "Fri, 16 Oct 2026 08:00:00 XYZ"),
	)

	items, stats := News(feed, now, DefaultWindow, time.UTC)
	require.Equal(t, NewsStats{Total: 4, Kept: 3, DroppedDate: 1}, stats, "未知时区缩写应视为无法解析")

	require.True(t, items[0].PubDate.Equal(time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC)), "EST 应按 -05:00 解析")
	require.Equal(t, "2026-10-15 02:00:00", items[0].PubDateText)
	require.True(t, items[1].PubDate.Equal(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)), "PDT 应按 -07:00 解析")
	require.Equal(t, "2026-10-16 08:00:00", items[2].PubDateText)
}
