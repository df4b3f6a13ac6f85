package collab

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/seamline-io/conveyor/types"
)

// Reference collaborators: deterministic, dependency-free implementations so
// the pipeline runs end to end without external model integrations. Real
// deployments swap these for their own Scorer/Selector/Drafter/Renderer.

// ReferenceScorer scores by keyword density against a weighted vocabulary.
type ReferenceScorer struct {
	// Keywords maps a lowercase keyword to its weight. Empty uses a small
	// built-in vocabulary.
	Keywords map[string]float64
}

var defaultKeywords = map[string]float64{
	"launch": 2, "funding": 2, "acquisition": 3, "breakthrough": 3,
	"regulation": 2, "earnings": 1.5, "partnership": 1.5, "open-source": 2,
	"capacity": 1.5, "shortage": 2, "pricing": 1.5,
}

// Score derives the three admission metrics from keyword hits. Scores are
// bounded to [0, 10] per metric.
func (s *ReferenceScorer) Score(_ context.Context, title, body string) (types.Scores, error) {
	keywords := s.Keywords
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	text := strings.ToLower(title + " " + body)

	var hits float64
	for kw, weight := range keywords {
		hits += weight * float64(strings.Count(text, kw))
	}

	// Title length is a weak proxy for specificity.
	specificity := float64(len(strings.Fields(title)))

	return types.Scores{
		types.MetricRelevance: clamp(5 + hits),
		types.MetricAsymmetry: clamp(4 + hits/2),
		types.MetricPotential: clamp(3 + hits/2 + specificity/4),
	}, nil
}

func clamp(v float64) float64 {
	if v > 10 {
		return 10
	}
	if v < 0 {
		return 0
	}
	return v
}

// ReferenceSelector picks the highest-scored item's title as the topic and
// ranks the rest as fallback candidates.
type ReferenceSelector struct{}

// Select orders items by mean score, best first. Lite mode skips the outline.
func (ReferenceSelector) Select(_ context.Context, items []types.Item, mode string) (types.Selection, error) {
	if len(items) == 0 {
		return types.Selection{}, fmt.Errorf("reference selector: no items to select from")
	}

	ranked := make([]types.Item, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Scores.Mean(types.RequiredMetrics) > ranked[j].Scores.Mean(types.RequiredMetrics)
	})

	sel := types.Selection{
		Topic: ranked[0].Title,
		Mode:  mode,
	}
	for _, item := range ranked {
		sel.ItemKeys = append(sel.ItemKeys, item.DedupKey)
		sel.Headlines = append(sel.Headlines, item.Title)
	}
	for _, item := range ranked[1:] {
		sel.Candidates = append(sel.Candidates, item.Title)
	}
	if mode == types.ModeFull {
		var b strings.Builder
		b.WriteString("1. Context\n2. What changed\n")
		for i, h := range sel.Headlines {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "   - %s\n", h)
		}
		b.WriteString("3. Outlook\n")
		sel.Outline = b.String()
	}
	return sel, nil
}

// ReferenceDrafter expands a selection into a plain structured draft.
type ReferenceDrafter struct{}

func (ReferenceDrafter) Draft(_ context.Context, sel types.Selection) (Draft, error) {
	if sel.Empty() {
		return Draft{}, fmt.Errorf("reference drafter: empty selection")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "An overview of %s.\n\n", sel.Topic)
	if sel.Outline != "" {
		b.WriteString(sel.Outline)
		b.WriteString("\n")
	}
	if len(sel.Headlines) > 0 {
		b.WriteString("Signals:\n")
		for _, h := range sel.Headlines {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	return Draft{Title: sel.Topic, Body: b.String()}, nil
}

// ReferenceRenderer emits the draft as Markdown.
type ReferenceRenderer struct{}

func (ReferenceRenderer) Render(_ context.Context, d Draft) ([]byte, error) {
	if d.Title == "" && d.Body == "" {
		return nil, fmt.Errorf("reference renderer: empty draft")
	}
	return []byte(fmt.Sprintf("# %s\n\n%s", d.Title, d.Body)), nil
}

var (
	_ Scorer   = (*ReferenceScorer)(nil)
	_ Selector = ReferenceSelector{}
	_ Drafter  = ReferenceDrafter{}
	_ Renderer = ReferenceRenderer{}
)
