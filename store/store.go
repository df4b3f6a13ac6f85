// Package store defines the Item Store boundary: the durable, globally keyed
// record of every candidate item the pipeline has ever admitted or rejected.
//
// The single write primitive is an atomic check-and-insert. Items are
// immutable once stored; concurrent inserts for the same dedup key must
// serialize so that exactly one caller wins. That property is what the
// admission gate's at-most-once guarantee rests on.
package store

import (
	"context"
	"errors"

	"github.com/seamline-io/conveyor/types"
)

// ErrMissingDedupKey is returned when an item without a dedup key is offered
// to the store.
var ErrMissingDedupKey = errors.New("item store: missing dedup key")

// ItemStore is the durable candidate-item record keyed by dedup key.
// Implementations must survive process restart and serialize concurrent
// inserts per key.
type ItemStore interface {
	// PutIfAbsent atomically inserts the item under its dedup key.
	// Returns true when this call inserted the item, false when the key was
	// already present (the stored item is left untouched).
	PutIfAbsent(ctx context.Context, item types.Item) (bool, error)

	// Get returns the stored item for a dedup key.
	Get(ctx context.Context, dedupKey string) (types.Item, bool, error)

	// List returns all stored items. Ordering is unspecified.
	List(ctx context.Context) ([]types.Item, error)

	// Close releases store resources.
	Close() error
}
