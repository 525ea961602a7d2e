package news

import (
	"bytes"
	"encoding/xml"
	"html"
	"regexp"
	"strings"
	"time"
)

type rssFeed struct {
	Items []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
	Source  string `xml:"source"`
}

func parseFeed(body []byte) ([]rssItem, error) {
	var feed rssFeed
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&feed); err != nil {
		return nil, err
	}
	return feed.Items, nil
}

var pubDateLayouts = []string{
	time.RFC1123,
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
	"2006-01-02",
}

// parsePubDate parses an RSS date, returning nil when no layout matches
func parsePubDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]+>`)
	punctReplace = strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", `"`, "”", `"`,
		"–", "-", "—", "-",
		"…", "...", " ", " ",
		"®", "(R)", "™", "(TM)",
	)
)

// cleanTitle strips markup and entities and folds the title to plain ASCII
func cleanTitle(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = punctReplace.Replace(s)
	s = strings.Map(func(r rune) rune {
		if r > 127 {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
