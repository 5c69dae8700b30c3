package domain

// Corpus kinds. Each kind is backed by its own vector store.
type Corpus string

const (
	CorpusSummary Corpus = "summary"
	CorpusChunk   Corpus = "chunk"
	CorpusTable   Corpus = "table"
)

// Metadata keys shared between ingestion and retrieval.
const (
	MetaSourceFile = "source_file"
	MetaType       = "type"
	MetaPage       = "page"
	MetaCharStart  = "char_start"
	MetaCharEnd    = "char_end"
)

// Record is one embedded unit stored in a corpus. The id is unique within its
// corpus; the vector dimensionality is constant within a corpus.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]any
}

// SourceFile returns the metadata source_file value, or "".
func (r Record) SourceFile() string {
	if f, ok := r.Metadata[MetaSourceFile].(string); ok {
		return f
	}
	return ""
}

// Hit is a scored search result.
type Hit struct {
	Record Record
	Score  float64
}

// Evidence is the retrieval-facing view of a record, carried through the
// answering loop and into traces.
type Evidence struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// SourceFile returns the metadata source_file value, or "".
func (e Evidence) SourceFile() string {
	if f, ok := e.Metadata[MetaSourceFile].(string); ok {
		return f
	}
	return ""
}

// EvidenceFromHit converts a search hit into loop evidence.
func EvidenceFromHit(h Hit) Evidence {
	return Evidence{
		ID:       h.Record.ID,
		Score:    h.Score,
		Text:     h.Record.Text,
		Metadata: h.Record.Metadata,
	}
}
