package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seamline-io/conveyor/ledger"
	"github.com/seamline-io/conveyor/log"
	"github.com/seamline-io/conveyor/types"
)

// selectStage picks the run date's topic from the admitted item window,
// honoring the topic cooldown by falling back through the selector's ranked
// candidates.
func (c *Coordinator) selectStage(ctx context.Context, date types.RunDate, mode string, logger *log.Logger) ([]types.ArtifactRef, error) {
	items, err := c.admittedItems(ctx, date)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, Permanentf("no admitted items available for %s (lookback %d days)", date, c.cfg.SelectLookbackDays)
	}

	var sel types.Selection
	err = c.retry.call(ctx, "selector.select", func(ctx context.Context) error {
		var err error
		sel, err = c.deps.Selector.Select(ctx, items, mode)
		return err
	})
	if err != nil {
		return nil, err
	}
	if sel.Empty() {
		return nil, Permanentf("selector returned an empty selection")
	}
	sel.Mode = mode

	cooling, err := c.recentTopics(ctx, date)
	if err != nil {
		return nil, err
	}
	if cooling[sel.Topic] {
		replaced := false
		for _, cand := range sel.Candidates {
			if cand != sel.Topic && !cooling[cand] {
				logger.Info("topic cooling, using fallback candidate", map[string]any{
					"cooling":  sel.Topic,
					"fallback": cand,
				})
				sel.Topic = cand
				replaced = true
				break
			}
		}
		if !replaced {
			return nil, Permanentf("topic %q and all candidates selected within the %d-day cooldown", sel.Topic, c.cfg.TopicCooldownDays)
		}
	}

	data, err := json.MarshalIndent(&sel, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode selection: %w", err)
	}
	ref, err := c.deps.Artifacts.Put(ctx, date, types.StageSelect, "selection.json", data)
	if err != nil {
		return nil, fmt.Errorf("store selection: %w", err)
	}

	logger.Info("selection stored", map[string]any{
		"topic": sel.Topic,
		"mode":  mode,
		"items": len(sel.ItemKeys),
	})
	return []types.ArtifactRef{ref}, nil
}

// recentTopics returns topics chosen by succeeded select runs on prior dates
// within the cooldown window. The current date is excluded so a same-day
// re-run may keep its topic.
func (c *Coordinator) recentTopics(ctx context.Context, date types.RunDate) (map[string]bool, error) {
	topics := make(map[string]bool)
	if c.cfg.TopicCooldownDays <= 0 {
		return topics, nil
	}
	dates, err := c.deps.Ledger.Dates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger dates: %w", err)
	}
	windowStart := date.Time().AddDate(0, 0, -c.cfg.TopicCooldownDays)
	for _, d := range dates {
		if d == date || d.Time().Before(windowStart) || d.Time().After(date.Time()) {
			continue
		}
		sel, ok, err := c.loadSelection(ctx, d)
		if err != nil {
			return nil, err
		}
		if ok {
			topics[sel.Topic] = true
		}
	}
	return topics, nil
}

// loadSelection reads the selection artifact behind a date's newest
// succeeded select record.
func (c *Coordinator) loadSelection(ctx context.Context, date types.RunDate) (types.Selection, bool, error) {
	rec, ok, err := ledger.LatestSucceeded(ctx, c.deps.Ledger, date, types.StageSelect)
	if err != nil || !ok {
		return types.Selection{}, false, err
	}
	if len(rec.ArtifactRefs) == 0 {
		return types.Selection{}, false, nil
	}
	data, err := c.deps.Artifacts.Get(ctx, rec.ArtifactRefs[0])
	if err != nil {
		return types.Selection{}, false, fmt.Errorf("load selection %s: %w", rec.ArtifactRefs[0], err)
	}
	var sel types.Selection
	if err := json.Unmarshal(data, &sel); err != nil {
		return types.Selection{}, false, fmt.Errorf("decode selection %s: %w", rec.ArtifactRefs[0], err)
	}
	return sel, true, nil
}
