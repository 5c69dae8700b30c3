package domain

import (
	"context"
	"fmt"
)

// Embedder is the shared text vectorization contract between layers.
// Implementations must return one vector per input text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer produces a JSON object matching the keys of the supplied schema
// description. Implementations repair or degrade malformed output at this
// boundary; callers only see ErrModelCall when the backend is unreachable.
type Completer interface {
	ChatJSON(ctx context.Context, system, user, schema string) (map[string]any, error)
}

// EmbedOne vectorizes a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d: %w", len(vecs), ErrModelCall)
	}
	return vecs[0], nil
}
