package domain

// TextChunk is a span of a source document produced by the chunker.
// Start and End are character offsets into the originating text.
type TextChunk struct {
	Text  string
	Start int
	End   int
}

// ParsedChunk is a chunk emitted by an extractor, not yet embedded.
// The id is local to the document ("chunk-0", "chunk-1", ...); ingestion
// suffixes the filename to make it corpus-unique.
type ParsedChunk struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// ParsedTable is a table detected by an extractor. Text is the flattened
// representation used for embedding; Raw keeps the cell grid.
type ParsedTable struct {
	ID       string
	Text     string
	Raw      [][]string
	Metadata map[string]any
}

// ParsedDocument is the extractor output for one source document.
type ParsedDocument struct {
	FullText string
	Chunks   []ParsedChunk
	Tables   []ParsedTable
}

// IngestResult summarizes one ingested document.
type IngestResult struct {
	Filename  string `json:"filename"`
	Summary   string `json:"summary"`
	NumChunks int    `json:"num_chunks"`
	NumTables int    `json:"num_tables"`
}
