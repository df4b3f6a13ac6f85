// Package gate implements the dedup and admission gate.
//
// Admission is a single atomic operation against the item store: concurrent
// attempts for the same dedup key serialize so exactly one becomes admitted
// and the rest see a duplicate. Rejections are recorded too, so a
// below-threshold item is never rescored on a later sighting.
package gate

import (
	"context"
	"fmt"

	"github.com/seamline-io/conveyor/store"
	"github.com/seamline-io/conveyor/types"
)

// Decision is the admission outcome.
type Decision string

// Admission outcomes. A duplicate is not an error; re-sighting an admitted or
// rejected key is a no-op.
const (
	Admitted          Decision = "admitted"
	RejectedDuplicate Decision = "rejected_duplicate"
	RejectedLowScore  Decision = "rejected_low_score"
)

// Gate decides whether an incoming item is new, previously seen, or below the
// quality threshold.
type Gate struct {
	items     store.ItemStore
	threshold float64
	metrics   []string
}

// New creates a gate over an item store. metrics lists the score metrics the
// threshold applies to; nil uses types.RequiredMetrics.
func New(items store.ItemStore, threshold float64, metrics []string) *Gate {
	if metrics == nil {
		metrics = types.RequiredMetrics
	}
	return &Gate{items: items, threshold: threshold, metrics: metrics}
}

// Admit runs the atomic admission decision for a scored item.
//
// The fast-path Get is an optimization only; correctness comes from the
// store's check-and-insert, which is the serialization point for racing
// admissions of the same key.
func (g *Gate) Admit(ctx context.Context, item types.Item) (Decision, error) {
	if item.DedupKey == "" {
		return "", store.ErrMissingDedupKey
	}

	if _, seen, err := g.items.Get(ctx, item.DedupKey); err != nil {
		return "", fmt.Errorf("admission lookup: %w", err)
	} else if seen {
		return RejectedDuplicate, nil
	}

	if item.Scores.Mean(g.metrics) < g.threshold {
		item.Status = types.ItemRejected
		inserted, err := g.items.PutIfAbsent(ctx, item)
		if err != nil {
			return "", fmt.Errorf("record rejection: %w", err)
		}
		if !inserted {
			return RejectedDuplicate, nil
		}
		return RejectedLowScore, nil
	}

	item.Status = types.ItemAdmitted
	inserted, err := g.items.PutIfAbsent(ctx, item)
	if err != nil {
		return "", fmt.Errorf("record admission: %w", err)
	}
	if !inserted {
		return RejectedDuplicate, nil
	}
	return Admitted, nil
}
