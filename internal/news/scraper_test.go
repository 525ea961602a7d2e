package news

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketrefresh/internal/fetcher"
	"marketrefresh/internal/models"
	"marketrefresh/internal/testutil"
)

func feedXML(links ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>feed</title>`)
	for i, link := range links {
		fmt.Fprintf(&b, `<item><title>Story %d &amp; more</title><link>%s</link>`+
			`<pubDate>Mon, 15 Jan 2024 1%d:00:00 GMT</pubDate><source url="https://example.com">Example Wire</source></item>`,
			i+1, link, i%10)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

type testFeed struct {
	feed      *httptest.Server
	publisher *httptest.Server
	feedHits  atomic.Int32
	lastQuery atomic.Value
	items     func(base string) string
}

func newTestFeed(t *testing.T, items func(base string) string) *testFeed {
	t.Helper()
	tf := &testFeed{items: items}

	tf.publisher = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>article</html>"))
	}))
	t.Cleanup(tf.publisher.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/rss/search", func(w http.ResponseWriter, r *http.Request) {
		tf.feedHits.Add(1)
		tf.lastQuery.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(tf.items("http://" + r.Host)))
	})
	mux.HandleFunc("/rss/articles/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/rss/articles/")
		if id == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, tf.publisher.URL+"/story/"+id, http.StatusFound)
	})
	tf.feed = httptest.NewServer(mux)
	t.Cleanup(tf.feed.Close)
	return tf
}

func (tf *testFeed) scraper(t *testing.T, resolve bool) *Scraper {
	t.Helper()
	cfg := Config{BaseURL: tf.feed.URL + "/rss/search", RequestsPerSecond: -1, ResolveURLs: resolve}
	client := fetcher.NewClient(cfg.NewClientConfig(), fetcher.WithClock(testutil.NewFakeClock(time.Now())))
	s := New(client, cfg)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQuery(t *testing.T) {
	assert.Equal(t, "Apple Inc stock", Query(models.Instrument{Symbol: "AAPL", Name: "Apple Inc"}))
	assert.Equal(t, "AAPL stock", Query(models.Instrument{Symbol: "AAPL", Name: "  "}))
}

func TestScraper_Source(t *testing.T) {
	tf := newTestFeed(t, func(string) string { return feedXML() })
	assert.Equal(t, models.SourceGoogleNews, tf.scraper(t, false).Source())
}

func TestFetchNews_ParsesFeed(t *testing.T) {
	tf := newTestFeed(t, func(base string) string {
		return feedXML("https://a.example.com/1", "", "https://a.example.com/3", "https://a.example.com/4")
	})
	s := tf.scraper(t, false)

	items, err := s.FetchNews(context.Background(), models.Instrument{Symbol: "AAPL", Name: "Apple Inc"}, 2)
	require.NoError(t, err)

	q := tf.lastQuery.Load().(url.Values)
	assert.Equal(t, []string{"Apple Inc stock"}, q["q"])
	assert.Equal(t, []string{"en-US"}, q["hl"])
	assert.Equal(t, []string{"US:en"}, q["ceid"])

	require.Len(t, items, 2, "entries without links are skipped")
	assert.Equal(t, "Story 1 & more", items[0].Title)
	assert.Equal(t, "https://a.example.com/1", items[0].URL)
	assert.Equal(t, "Example Wire", items[0].Source)
	require.NotNil(t, items[0].PublishedAt)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), *items[0].PublishedAt)
	assert.Equal(t, "https://a.example.com/3", items[1].URL)
}

func TestFetchNews_ScansTwiceMax(t *testing.T) {
	tf := newTestFeed(t, func(base string) string {
		return feedXML("", "", "", "", "https://a.example.com/5")
	})

	items, err := tf.scraper(t, false).FetchNews(context.Background(), models.Instrument{Symbol: "X"}, 2)
	require.NoError(t, err)
	assert.Empty(t, items, "only the first max*2 entries are considered")
}

func TestFetchNews_ResolvesRedirectLinks(t *testing.T) {
	tf := newTestFeed(t, func(base string) string {
		return feedXML(base+"/rss/articles/1", "https://direct.example.com/2", base+"/rss/articles/broken", base+"/rss/articles/4")
	})
	s := tf.scraper(t, true)

	items, err := s.FetchNews(context.Background(), models.Instrument{Symbol: "MSFT"}, 5)
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, tf.publisher.URL+"/story/1", items[0].URL)
	assert.Equal(t, "https://direct.example.com/2", items[1].URL, "foreign links are left alone")
	assert.Equal(t, tf.feed.URL+"/rss/articles/broken", items[2].URL, "non-redirecting links keep their original URL")
	assert.Equal(t, tf.publisher.URL+"/story/4", items[3].URL)
}

func TestFetchNews_Errors(t *testing.T) {
	t.Run("malformed feed", func(t *testing.T) {
		tf := newTestFeed(t, func(string) string { return "<rss><channel><item>" })
		_, err := tf.scraper(t, false).FetchNews(context.Background(), models.Instrument{Symbol: "X"}, 5)
		assert.Equal(t, fetcher.ErrorTypeDecode, fetcher.TypeOf(err))
	})

	t.Run("upstream status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		cfg := Config{BaseURL: srv.URL, RequestsPerSecond: -1}
		s := New(fetcher.NewClient(cfg.NewClientConfig()), cfg)
		defer s.Close()

		_, err := s.FetchNews(context.Background(), models.Instrument{Symbol: "X"}, 5)
		assert.Equal(t, fetcher.ErrorTypeUpstream, fetcher.TypeOf(err))
	})

	t.Run("zero max", func(t *testing.T) {
		tf := newTestFeed(t, func(string) string { return feedXML("https://a.example.com/1") })
		items, err := tf.scraper(t, false).FetchNews(context.Background(), models.Instrument{Symbol: "X"}, 0)
		require.NoError(t, err)
		assert.Empty(t, items)
		assert.Equal(t, int32(0), tf.feedHits.Load())
	})
}

func TestParsePubDate(t *testing.T) {
	tests := []struct {
		in   string
		want *time.Time
	}{
		{"Sat, 30 Nov 2024 12:00:00 GMT", ptr(time.Date(2024, 11, 30, 12, 0, 0, 0, time.UTC))},
		{"Sat, 30 Nov 2024 12:00:00 +0100", ptr(time.Date(2024, 11, 30, 11, 0, 0, 0, time.UTC))},
		{"2024-11-30", ptr(time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC))},
		{"", nil},
		{"yesterday", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parsePubDate(tt.in)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("parsePubDate(%q) = %v, want nil", tt.in, *got)
			case tt.want != nil && got == nil:
				t.Errorf("parsePubDate(%q) = nil, want %v", tt.in, *tt.want)
			case tt.want != nil && !tt.want.Equal(*got):
				t.Errorf("parsePubDate(%q) = %v, want %v", tt.in, *got, *tt.want)
			}
		})
	}
}

func TestCleanTitle(t *testing.T) {
	tests := map[string]string{
		"<b>Apple</b> beats   estimates": "Apple beats estimates",
		"Nvidia&#39;s “record” quarter…": `Nvidia's "record" quarter...`,
		"Brand™ launch – café":           "Brand(TM) launch - caf",
		"  ":                             "",
	}
	for in, want := range tests {
		if got := cleanTitle(in); got != want {
			t.Errorf("cleanTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func ptr[T any](v T) *T { return &v }
