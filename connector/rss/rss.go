// Package rss implements the ingest connector over RSS and Atom feeds.
//
// Feeds are polled concurrently per theme; entry summaries are stripped of
// HTML before they reach the scoring pipeline.
package rss

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/seamline-io/conveyor/collab"
)

// DefaultMaxAge is the default entry freshness window.
const DefaultMaxAge = 7 * 24 * time.Hour

// summaryLimit caps stripped summaries so artifacts stay readable.
const summaryLimit = 300

// Source is one polled feed. An empty Themes list matches every theme.
type Source struct {
	Name   string
	URL    string
	Themes []string
}

// Connector fetches candidates from configured RSS/Atom feeds.
type Connector struct {
	parser  *gofeed.Parser
	sources []Source
	maxAge  time.Duration
	now     func() time.Time
}

// New creates a connector over the given sources. maxAge <= 0 uses the
// default freshness window.
func New(sources []Source, maxAge time.Duration) *Connector {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Connector{
		parser:  gofeed.NewParser(),
		sources: sources,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// SetClock replaces the freshness clock. Test hook.
func (c *Connector) SetClock(now func() time.Time) { c.now = now }

// Fetch polls every feed matching the theme and returns fresh candidates.
// Individual feed failures are tolerated as long as at least one feed
// answers; the fetch fails only when every matching feed does.
func (c *Connector) Fetch(ctx context.Context, theme string) ([]collab.Candidate, error) {
	matching := c.sourcesFor(theme)
	if len(matching) == 0 {
		return nil, fmt.Errorf("rss: no feeds configured for theme %q", theme)
	}

	var (
		mu         sync.Mutex
		candidates []collab.Candidate
		errs       []error
		wg         sync.WaitGroup
	)

	for _, src := range matching {
		wg.Add(1)
		go func(s Source) {
			defer wg.Done()
			got, err := c.fetchOne(ctx, s)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			candidates = append(candidates, got...)
		}(src)
	}
	wg.Wait()

	if len(errs) == len(matching) {
		return nil, fmt.Errorf("rss: all %d feeds failed: %w", len(matching), errors.Join(errs...))
	}
	return candidates, nil
}

func (c *Connector) sourcesFor(theme string) []Source {
	var matching []Source
	for _, src := range c.sources {
		if matchesTheme(src, theme) {
			matching = append(matching, src)
		}
	}
	return matching
}

func matchesTheme(src Source, theme string) bool {
	if len(src.Themes) == 0 {
		return true
	}
	for _, t := range src.Themes {
		if strings.EqualFold(t, theme) {
			return true
		}
	}
	return false
}

func (c *Connector) fetchOne(ctx context.Context, src Source) ([]collab.Candidate, error) {
	feed, err := c.parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.Name, err)
	}

	cutoff := c.now().Add(-c.maxAge)
	out := make([]collab.Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Link == "" || item.Title == "" {
			continue
		}

		published := c.now()
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}
		if published.Before(cutoff) {
			continue
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		out = append(out, collab.Candidate{
			SourceID: item.GUID,
			Title:    strings.TrimSpace(item.Title),
			URL:      item.Link,
			Summary:  truncate(stripHTML(summary), summaryLimit),
			Source:   src.Name,
		})
	}
	return out, nil
}

// stripHTML extracts the text content of an HTML fragment and collapses
// whitespace. Unparseable fragments pass through raw.
func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

// Verify Connector implements the collaborator interface.
var _ collab.Connector = (*Connector)(nil)
