// Package artifact stores stage outputs behind opaque references. Backends
// are addressed through the reference scheme: file:// for the local
// filesystem store and s3:// for the object store. Artifacts are immutable
// once written; retries and re-runs write new references instead of
// mutating old ones.
package artifact

import (
	"context"
	"errors"

	"github.com/seamline-io/conveyor/types"
)

// ErrNotFound: no artifact behind the reference.
var ErrNotFound = errors.New("artifact: not found")

// Store persists and resolves stage outputs. Writes are durable before Put
// returns; the run ledger records a reference only after the artifact exists.
type Store interface {
	// Put writes data under a (date, stage, name) address and returns the
	// opaque reference to record in the ledger.
	Put(ctx context.Context, date types.RunDate, stage types.Stage, name string, data []byte) (types.ArtifactRef, error)

	// Get resolves a reference. Returns ErrNotFound for dangling refs.
	Get(ctx context.Context, ref types.ArtifactRef) ([]byte, error)

	// Exists reports whether the reference resolves, without reading the body.
	Exists(ctx context.Context, ref types.ArtifactRef) (bool, error)

	// List returns every reference stored under a run date, sorted.
	List(ctx context.Context, date types.RunDate) ([]types.ArtifactRef, error)

	// Close releases backend resources.
	Close() error
}
