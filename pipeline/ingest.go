package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/seamline-io/conveyor/collab"
	"github.com/seamline-io/conveyor/gate"
	"github.com/seamline-io/conveyor/log"
	"github.com/seamline-io/conveyor/types"
)

// ingestSummary is the ingest stage's artifact: every admission decision made
// in the batch, plus the theme it scanned under.
type ingestSummary struct {
	Theme     string           `json:"theme"`
	Fetched   int              `json:"fetched"`
	Decisions []ingestDecision `json:"decisions"`
	Admitted  []string         `json:"admitted_keys"`
}

type ingestDecision struct {
	DedupKey string        `json:"dedup_key"`
	Title    string        `json:"title"`
	Decision gate.Decision `json:"decision"`
	Mean     float64       `json:"mean_score"`
}

// ingest fetches candidates for the theme, scores the unseen ones, and runs
// them through the admission gate best-first up to the batch cap.
func (c *Coordinator) ingest(ctx context.Context, date types.RunDate, theme string, logger *log.Logger) ([]types.ArtifactRef, error) {
	var candidates []collab.Candidate
	err := c.retry.call(ctx, "connector.fetch", func(ctx context.Context) error {
		var err error
		candidates, err = c.deps.Connector.Fetch(ctx, theme)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := c.now()
	var scored []types.Item
	seenInBatch := make(map[string]bool)
	for _, cand := range candidates {
		if cand.URL == "" && cand.Title == "" {
			continue
		}
		key := types.DedupKeyFor(cand.URL, cand.Title)
		if seenInBatch[key] {
			continue
		}
		seenInBatch[key] = true

		// Known keys skip scoring entirely: admitted and rejected items are
		// immutable, so there is nothing a fresh score could change.
		if _, known, err := c.deps.Items.Get(ctx, key); err != nil {
			return nil, fmt.Errorf("dedup lookup: %w", err)
		} else if known {
			c.deps.Collector.IncItemRejectedDuplicate()
			continue
		}

		var scores types.Scores
		err := c.retry.call(ctx, "scorer.score", func(ctx context.Context) error {
			var err error
			scores, err = c.deps.Scorer.Score(ctx, cand.Title, cand.Summary)
			return err
		})
		if err != nil {
			return nil, err
		}

		scored = append(scored, types.Item{
			SourceID: cand.SourceID,
			DedupKey: key,
			Title:    cand.Title,
			URL:      cand.URL,
			Summary:  cand.Summary,
			Source:   cand.Source,
			Theme:    theme,
			Scores:   scores,
			Status:   types.ItemScored,
			SeenAt:   now,
		})
	}

	// Best candidates get the batch slots.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Scores.Mean(types.RequiredMetrics) > scored[j].Scores.Mean(types.RequiredMetrics)
	})

	g := c.newGate()
	summary := ingestSummary{Theme: theme, Fetched: len(candidates)}
	admitted := 0
	for _, item := range scored {
		if c.cfg.MaxBatchItems > 0 && admitted >= c.cfg.MaxBatchItems {
			break
		}
		decision, err := g.Admit(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("admission: %w", err)
		}
		summary.Decisions = append(summary.Decisions, ingestDecision{
			DedupKey: item.DedupKey,
			Title:    item.Title,
			Decision: decision,
			Mean:     item.Scores.Mean(types.RequiredMetrics),
		})
		switch decision {
		case gate.Admitted:
			admitted++
			summary.Admitted = append(summary.Admitted, item.DedupKey)
			c.deps.Collector.IncItemAdmitted()
			c.recordTrend(ctx, item, logger)
		case gate.RejectedDuplicate:
			c.deps.Collector.IncItemRejectedDuplicate()
		case gate.RejectedLowScore:
			c.deps.Collector.IncItemRejectedLowScore()
		}
	}

	logger.Info("ingest batch complete", map[string]any{
		"theme":    theme,
		"fetched":  len(candidates),
		"scored":   len(scored),
		"admitted": admitted,
	})

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode ingest summary: %w", err)
	}
	ref, err := c.deps.Artifacts.Put(ctx, date, types.StageIngest, "items.json", data)
	if err != nil {
		return nil, fmt.Errorf("store ingest summary: %w", err)
	}
	return []types.ArtifactRef{ref}, nil
}

// recordTrend forwards an admitted item to the trend sink. Trend history is
// advisory; a sink failure is logged and dropped.
func (c *Coordinator) recordTrend(ctx context.Context, item types.Item, logger *log.Logger) {
	if c.deps.Trends == nil {
		return
	}
	if err := c.deps.Trends.RecordAdmitted(ctx, item); err != nil {
		logger.Warn("trend record failed", map[string]any{
			"dedup_key": item.DedupKey,
			"error":     err.Error(),
		})
	}
}
