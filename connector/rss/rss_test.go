package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Test Feed</title>
<link>https://example.com</link>
%s
</channel>
</rss>`

func feedItem(guid, title, link, desc, pubDate string) string {
	return fmt.Sprintf(`<item>
<guid>%s</guid>
<title>%s</title>
<link>%s</link>
<description><![CDATA[%s]]></description>
<pubDate>%s</pubDate>
</item>`, guid, title, link, desc, pubDate)
}

func serveFeed(t *testing.T, items ...string) *httptest.Server {
	t.Helper()
	body := fmt.Sprintf(feedTemplate, joinItems(items))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func joinItems(items []string) string {
	var out string
	for _, it := range items {
		out += it + "\n"
	}
	return out
}

// testNow is just after the fresh item's publication date.
var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newConnector(sources []Source) *Connector {
	c := New(sources, 0)
	c.SetClock(func() time.Time { return testNow })
	return c
}

func TestFetch_ParsesFreshEntries(t *testing.T) {
	ts := serveFeed(t,
		feedItem("g1", "Chip fab expansion", "https://example.com/chips",
			"<p>Foundry capacity <b>doubles</b> next year.</p>", "Fri, 13 Mar 2026 09:00:00 UTC"),
		feedItem("g2", "Old news", "https://example.com/old",
			"stale", "Sun, 01 Feb 2026 09:00:00 UTC"),
	)

	c := newConnector([]Source{{Name: "test-feed", URL: ts.URL}})

	got, err := c.Fetch(context.Background(), "semiconductors")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 fresh candidate, got %d", len(got))
	}

	cand := got[0]
	if cand.Title != "Chip fab expansion" {
		t.Errorf("title = %q", cand.Title)
	}
	if cand.URL != "https://example.com/chips" {
		t.Errorf("url = %q", cand.URL)
	}
	if cand.Source != "test-feed" {
		t.Errorf("source = %q", cand.Source)
	}
	if cand.Summary != "Foundry capacity doubles next year." {
		t.Errorf("summary should be HTML-stripped, got %q", cand.Summary)
	}
}

func TestFetch_ThemeFiltering(t *testing.T) {
	chipFeed := serveFeed(t,
		feedItem("g1", "Chips", "https://example.com/chips", "d", "Fri, 13 Mar 2026 09:00:00 UTC"))
	bioFeed := serveFeed(t,
		feedItem("g2", "Biotech", "https://example.com/bio", "d", "Fri, 13 Mar 2026 09:00:00 UTC"))

	c := newConnector([]Source{
		{Name: "chips", URL: chipFeed.URL, Themes: []string{"semiconductors"}},
		{Name: "bio", URL: bioFeed.URL, Themes: []string{"biotech"}},
	})

	got, err := c.Fetch(context.Background(), "semiconductors")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 1 || got[0].Source != "chips" {
		t.Fatalf("expected only the chips feed, got %+v", got)
	}
}

func TestFetch_UntaggedFeedMatchesAnyTheme(t *testing.T) {
	ts := serveFeed(t,
		feedItem("g1", "General", "https://example.com/g", "d", "Fri, 13 Mar 2026 09:00:00 UTC"))

	c := newConnector([]Source{{Name: "general", URL: ts.URL}})

	got, err := c.Fetch(context.Background(), "fintech")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("untagged feed should match any theme, got %d candidates", len(got))
	}
}

func TestFetch_ToleratesPartialFailure(t *testing.T) {
	good := serveFeed(t,
		feedItem("g1", "Works", "https://example.com/ok", "d", "Fri, 13 Mar 2026 09:00:00 UTC"))
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	c := newConnector([]Source{
		{Name: "good", URL: good.URL},
		{Name: "bad", URL: bad.URL},
	})

	got, err := c.Fetch(context.Background(), "any")
	if err != nil {
		t.Fatalf("one healthy feed should carry the fetch: %v", err)
	}
	if len(got) != 1 || got[0].Source != "good" {
		t.Fatalf("expected the healthy feed's candidate, got %+v", got)
	}
}

func TestFetch_AllFeedsFailing(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	c := newConnector([]Source{{Name: "bad", URL: bad.URL}})

	if _, err := c.Fetch(context.Background(), "any"); err == nil {
		t.Fatal("expected error when every feed fails")
	}
}

func TestFetch_NoFeedsForTheme(t *testing.T) {
	c := newConnector([]Source{{Name: "chips", URL: "http://unused", Themes: []string{"semiconductors"}}})

	if _, err := c.Fetch(context.Background(), "biotech"); err == nil {
		t.Fatal("expected error when no feed matches the theme")
	}
}

func TestFetch_SkipsEntriesWithoutLinkOrTitle(t *testing.T) {
	ts := serveFeed(t,
		feedItem("g1", "", "https://example.com/untitled", "d", "Fri, 13 Mar 2026 09:00:00 UTC"),
		feedItem("g2", "No link", "", "d", "Fri, 13 Mar 2026 09:00:00 UTC"),
		feedItem("g3", "Complete", "https://example.com/ok", "d", "Fri, 13 Mar 2026 09:00:00 UTC"),
	)

	c := newConnector([]Source{{Name: "f", URL: ts.URL}})

	got, err := c.Fetch(context.Background(), "any")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Complete" {
		t.Fatalf("expected only the complete entry, got %+v", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"ab", 2, "ab"},
		{"abcd", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
