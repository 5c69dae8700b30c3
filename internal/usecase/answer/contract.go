package answer

import (
	"context"

	"github.com/finqa-labs/finqa/internal/domain"
)

// Retriever runs hybrid retrieval over the three corpora.
type Retriever interface {
	RetrieveDocs(ctx context.Context, query string, topK int) ([]domain.Hit, error)
	RetrieveChunks(ctx context.Context, query string, topK int) ([]domain.Hit, error)
	RetrieveTables(ctx context.Context, query string, topK int) ([]domain.Hit, error)
}

// TraceStore persists completed traces.
type TraceStore interface {
	Save(t *domain.Trace) error
}
