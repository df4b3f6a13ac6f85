package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seamline-io/conveyor/collab"
	"github.com/seamline-io/conveyor/log"
	"github.com/seamline-io/conveyor/types"
)

// generate drafts, renders, and (for free documents) delivers the run date's
// document. Paid reports are held at the human review gate: the document is
// produced and stored, but delivery waits for an external acknowledgment
// recorded via AcknowledgeDelivery.
func (c *Coordinator) generate(ctx context.Context, date types.RunDate, opts types.RunOptions, logger *log.Logger) ([]types.ArtifactRef, error) {
	sel, ok, err := c.loadSelection(ctx, date)
	if err != nil {
		return nil, err
	}
	if !ok || sel.Empty() {
		return nil, Permanentf("no succeeded select record with a non-empty selection for %s", date)
	}
	if opts.Paid && opts.Topic != "" {
		sel.Topic = opts.Topic
	}

	if err := c.checkPublishLimits(ctx, date, opts.Paid); err != nil {
		return nil, err
	}

	var draft collab.Draft
	err = c.retry.call(ctx, "drafter.draft", func(ctx context.Context) error {
		var err error
		draft, err = c.deps.Drafter.Draft(ctx, sel)
		return err
	})
	if err != nil {
		return nil, err
	}
	if draft.Body == "" {
		return nil, Permanentf("drafter produced an empty body for topic %q", sel.Topic)
	}

	var doc []byte
	err = c.retry.call(ctx, "renderer.render", func(ctx context.Context) error {
		var err error
		doc, err = c.deps.Renderer.Render(ctx, draft)
		return err
	})
	if err != nil {
		return nil, err
	}

	name, kind := "document.md", types.ArtifactKindDocument
	if opts.Paid {
		name, kind = "report.md", types.ArtifactKindReport
	}
	ref, err := c.deps.Artifacts.Put(ctx, date, types.StageGenerate, name, doc)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", kind, err)
	}
	refs := []types.ArtifactRef{ref}

	if opts.Paid {
		// No auto-delivery for paid reports: the descriptor marks the hold
		// and the acknowledgment ref arrives later through
		// AcknowledgeDelivery.
		desc := types.Artifact{
			Ref:                 ref,
			Kind:                kind,
			RequiresHumanReview: true,
			Bytes:               int64(len(doc)),
		}
		manifest, err := json.MarshalIndent(&desc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode report descriptor: %w", err)
		}
		descRef, err := c.deps.Artifacts.Put(ctx, date, types.StageGenerate, "report.json", manifest)
		if err != nil {
			return nil, fmt.Errorf("store report descriptor: %w", err)
		}
		logger.Info("paid report held for human review", map[string]any{
			"topic": sel.Topic,
			"ref":   string(ref),
		})
		return append(refs, descRef), nil
	}

	var token string
	err = c.retry.call(ctx, "delivery.deliver", func(ctx context.Context) error {
		var err error
		token, err = c.deps.Delivery.Deliver(ctx, date, kind, doc)
		return err
	})
	if err != nil {
		c.deps.Collector.IncDeliveryFailed()
		return nil, err
	}
	c.deps.Collector.IncDelivery()
	logger.Info("document delivered", map[string]any{
		"topic": sel.Topic,
		"token": token,
	})
	return append(refs, types.ArtifactRef(deliveryRefPrefix+token)), nil
}

// checkPublishLimits enforces the per-date publish caps: delivered free
// documents and succeeded paid reports both count across superseded
// attempts, since superseded outputs were still published.
func (c *Coordinator) checkPublishLimits(ctx context.Context, date types.RunDate, paid bool) error {
	attempts, err := c.deps.Ledger.Attempts(ctx, date, types.StageGenerate)
	if err != nil {
		return fmt.Errorf("consult ledger: %w", err)
	}
	freeDelivered, paidSucceeded := 0, 0
	for _, rec := range attempts {
		if rec.State != types.StateSucceeded {
			continue
		}
		if rec.Paid {
			paidSucceeded++
			continue
		}
		if hasRefPrefix(rec.ArtifactRefs, deliveryRefPrefix) {
			freeDelivered++
		}
	}
	if paid {
		if c.cfg.MaxPaidPerDay > 0 && paidSucceeded >= c.cfg.MaxPaidPerDay {
			return Permanentf("paid publish limit reached for %s (%d/day)", date, c.cfg.MaxPaidPerDay)
		}
		return nil
	}
	if c.cfg.MaxFreePerDay > 0 && freeDelivered >= c.cfg.MaxFreePerDay {
		return Permanentf("free publish limit reached for %s (%d/day)", date, c.cfg.MaxFreePerDay)
	}
	return nil
}
