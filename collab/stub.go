package collab

import (
	"context"

	"github.com/seamline-io/conveyor/types"
)

// Function-backed doubles for tests. Each method panics if its func field is
// unset, which keeps a test honest about the collaborators it exercises.

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, theme string) ([]Candidate, error)

func (f ConnectorFunc) Fetch(ctx context.Context, theme string) ([]Candidate, error) {
	return f(ctx, theme)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, title, body string) (types.Scores, error)

func (f ScorerFunc) Score(ctx context.Context, title, body string) (types.Scores, error) {
	return f(ctx, title, body)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context, items []types.Item, mode string) (types.Selection, error)

func (f SelectorFunc) Select(ctx context.Context, items []types.Item, mode string) (types.Selection, error) {
	return f(ctx, items, mode)
}

// DrafterFunc adapts a function to Drafter.
type DrafterFunc func(ctx context.Context, sel types.Selection) (Draft, error)

func (f DrafterFunc) Draft(ctx context.Context, sel types.Selection) (Draft, error) {
	return f(ctx, sel)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, d Draft) ([]byte, error)

func (f RendererFunc) Render(ctx context.Context, d Draft) ([]byte, error) {
	return f(ctx, d)
}

// DeliveryFunc adapts a function to Delivery.
type DeliveryFunc func(ctx context.Context, date types.RunDate, kind string, doc []byte) (string, error)

func (f DeliveryFunc) Deliver(ctx context.Context, date types.RunDate, kind string, doc []byte) (string, error) {
	return f(ctx, date, kind, doc)
}
