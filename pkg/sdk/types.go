package sdk

import "github.com/finqa-labs/finqa/internal/domain"

// Trace is the full audit log of one answering run.
type Trace = domain.Trace

// TraceSummary is the listing view of a stored trace.
type TraceSummary = domain.TraceSummary

// Event is one entry of a job's event stream.
type Event = domain.Event

// Health reports server liveness and corpus sizes.
type Health struct {
	Status string `json:"status"`
	Docs   int    `json:"docs"`
	Chunks int    `json:"chunks"`
	Tables int    `json:"tables"`
}

// UploadResult summarizes one synchronously ingested document.
type UploadResult struct {
	Status    string `json:"status"`
	Filename  string `json:"filename"`
	Summary   string `json:"summary"`
	NumChunks int    `json:"num_chunks"`
	NumTables int    `json:"num_tables"`
}

// Job identifies a background ingestion or answering run.
type Job struct {
	Status   string `json:"status"`
	JobID    string `json:"job_id"`
	Filename string `json:"filename,omitempty"`
}

// ScanResult summarizes one watch-folder scan. Files holds the ingest
// result for every document the scan picked up.
type ScanResult struct {
	Status   string                `json:"status"`
	Scanned  int                   `json:"scanned"`
	Ingested int                   `json:"ingested"`
	Files    []domain.IngestResult `json:"files"`
}

// Explanation is the readable rendering of a stored trace.
type Explanation struct {
	TraceID     string `json:"trace_id"`
	Explanation string `json:"explanation"`
}

// JobEvents is the ordered event stream of one job.
type JobEvents struct {
	JobID  string  `json:"job_id"`
	Events []Event `json:"events"`
}
