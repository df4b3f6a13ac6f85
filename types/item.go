package types

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// ItemStatus is the lifecycle status of a candidate item.
type ItemStatus string

// Item lifecycle. An item is immutable once admitted or rejected; re-sighting
// an admitted or rejected dedup key is a no-op, not an error.
const (
	ItemNew      ItemStatus = "new"
	ItemScored   ItemStatus = "scored"
	ItemAdmitted ItemStatus = "admitted"
	ItemRejected ItemStatus = "rejected"
)

// Score metric names. Each is optional until the ingest stage scores the item.
const (
	MetricRelevance = "relevance"
	MetricAsymmetry = "asymmetry"
	MetricPotential = "potential"
)

// RequiredMetrics lists the metrics the admission gate thresholds on.
var RequiredMetrics = []string{MetricRelevance, MetricAsymmetry, MetricPotential}

// Scores maps metric names to numeric values.
type Scores map[string]float64

// Mean returns the arithmetic mean over the named metrics. Missing metrics
// count as zero so unscored items never pass a positive threshold.
func (s Scores) Mean(metrics []string) float64 {
	if len(metrics) == 0 {
		return 0
	}
	var sum float64
	for _, m := range metrics {
		sum += s[m]
	}
	return sum / float64(len(metrics))
}

// Item is a candidate unit of content.
type Item struct {
	// SourceID is the stable identifier from the origin connector.
	SourceID string `json:"source_id" msgpack:"source_id"`
	// DedupKey is the normalized hash of canonicalized URL and title.
	// Admission keys on it globally across all run dates.
	DedupKey string `json:"dedup_key" msgpack:"dedup_key"`
	// Title is the item headline as fetched.
	Title string `json:"title" msgpack:"title"`
	// URL is the item origin URL.
	URL string `json:"url" msgpack:"url"`
	// Summary is a short excerpt, HTML stripped.
	Summary string `json:"summary,omitempty" msgpack:"summary,omitempty"`
	// Source tags the connector that produced the item.
	Source string `json:"source,omitempty" msgpack:"source,omitempty"`
	// Theme is the scan theme active when the item was sighted.
	Theme string `json:"theme,omitempty" msgpack:"theme,omitempty"`
	// Scores holds named metric values, empty until scored.
	Scores Scores `json:"scores,omitempty" msgpack:"scores,omitempty"`
	// Status is the lifecycle status.
	Status ItemStatus `json:"status" msgpack:"status"`
	// SeenAt is the first-sighting instant.
	SeenAt time.Time `json:"seen_at" msgpack:"seen_at"`
}

// DedupKeyFor derives the admission key from a raw URL and title.
// The URL is canonicalized (scheme and host lowercased, default ports,
// fragments, and tracking query noise dropped); the title is lowercased with
// whitespace collapsed. The key is the hex SHA-256 of the pair.
func DedupKeyFor(rawURL, title string) string {
	canon := canonicalizeURL(rawURL)
	norm := normalizeTitle(title)
	sum := sha256.Sum256([]byte(canon + "\x00" + norm))
	return hex.EncodeToString(sum[:])
}

func canonicalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ":80")
	u.Host = strings.TrimSuffix(u.Host, ":443")
	u.Fragment = ""

	// Drop tracking parameters so syndicated copies of the same link collapse.
	q := u.Query()
	for param := range q {
		if strings.HasPrefix(param, "utm_") || param == "ref" || param == "fbclid" {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

func normalizeTitle(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), unicode.IsSpace)
	return strings.Join(fields, " ")
}
