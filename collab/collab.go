// Package collab defines the external-collaborator boundary: every
// interface here crosses a process or network edge (feeds, model calls,
// delivery channels) and is therefore the only territory where the pipeline
// applies retry policy. Internal state mutations are never retried through
// these seams.
package collab

import (
	"context"

	"github.com/seamline-io/conveyor/types"
)

// Candidate is a raw item sighted by a connector, before scoring and
// admission.
type Candidate struct {
	SourceID string
	Title    string
	URL      string
	Summary  string
	Source   string
}

// Connector pulls candidate items from an upstream feed for a theme.
type Connector interface {
	Fetch(ctx context.Context, theme string) ([]Candidate, error)
}

// Scorer assigns the admission metrics to a candidate. Score is also reused
// by the reconciler to spot-check published artifacts for drift.
type Scorer interface {
	Score(ctx context.Context, title, body string) (types.Scores, error)
}

// Selector picks a topic, ranked candidates, headlines and an outline from
// the admitted items. Mode is lite or full.
type Selector interface {
	Select(ctx context.Context, items []types.Item, mode string) (types.Selection, error)
}

// Draft is the generate stage's intermediate text output.
type Draft struct {
	Title string
	Body  string
}

// Drafter writes the article draft for a selection.
type Drafter interface {
	Draft(ctx context.Context, sel types.Selection) (Draft, error)
}

// Renderer turns a draft into the final document bytes.
type Renderer interface {
	Render(ctx context.Context, d Draft) ([]byte, error)
}

// Delivery hands a finished document to its outbound channel and returns an
// acknowledgment token. The pipeline records the token on the run ledger;
// delivery without a recorded token is treated as not delivered.
type Delivery interface {
	Deliver(ctx context.Context, date types.RunDate, kind string, doc []byte) (string, error)
}
