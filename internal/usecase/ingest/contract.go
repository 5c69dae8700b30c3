package ingest

import "github.com/finqa-labs/finqa/internal/domain"

// CorpusStore is the storage contract for one corpus (documents, chunks
// or tables).
type CorpusStore interface {
	Add(records []domain.Record, flush bool) error
	Flush() error
	DeleteByFile(filename string) error
	HybridSearch(query string, vec []float32, alpha float64, topK int) []domain.Hit
	SourceFiles() []string
}

// Extractor parses a document file into its embeddable parts.
type Extractor interface {
	Accepts(filename string) bool
	Extract(path string) (domain.ParsedDocument, error)
}
