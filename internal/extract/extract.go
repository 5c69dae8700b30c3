// Package extract turns source documents into full text, chunks and
// detected tables ready for embedding.
package extract

import "github.com/finqa-labs/finqa/internal/domain"

// Extractor parses a document file into its embeddable parts.
type Extractor interface {
	// Accepts reports whether this extractor handles the given filename.
	Accepts(filename string) bool
	// Extract parses the file at path.
	Extract(path string) (domain.ParsedDocument, error)
}
