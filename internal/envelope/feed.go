package envelope

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNotAFeed means the body carries no RSS/Atom markers.
	ErrNotAFeed = errors.New("body is not an rss feed")

	itemBlockRe = regexp.MustCompile(`(?s)<item>(.*?)</item>`)
)

// Feed holds the raw inner text of every <item> element, in document order.
type Feed struct {
	Items []string
}

// ParseFeed splits an RSS document into item blocks.
func ParseFeed(text string) (Feed, error) {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "<rss") && !strings.Contains(lower, "<channel") && !strings.Contains(lower, "<feed") {
		return Feed{}, &UnparseableError{Preview: Preview(text), Tried: []string{"rss"}, Err: ErrNotAFeed}
	}

	matches := itemBlockRe.FindAllStringSubmatch(text, -1)
	feed := Feed{Items: make([]string, 0, len(matches))}
	for _, m := range matches {
		feed.Items = append(feed.Items, m[1])
	}
	return feed, nil
}
