package domain

import "time"

// StepKind tags one entry of a trace.
type StepKind string

const (
	StepReformulate    StepKind = "reformulate"
	StepRetrieveDocs   StepKind = "retrieve_docs"
	StepSelectDocs     StepKind = "select_docs"
	StepRetrieveChunks StepKind = "retrieve_chunks"
	StepFilterChunks   StepKind = "filter_chunks"
	StepFinalAnswer    StepKind = "final_answer"
)

// Step is one recorded transition of the answering loop. Fields are populated
// per kind and omitted otherwise.
type Step struct {
	Loop       int            `json:"loop"`
	Kind       StepKind       `json:"type"`
	Input      string         `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	Candidates []Evidence     `json:"candidates,omitempty"`
	Selection  []string       `json:"selection,omitempty"`
	Chunks     []Evidence     `json:"chunks,omitempty"`
	Tables     []Evidence     `json:"tables,omitempty"`
	Selected   []string       `json:"selected,omitempty"`
	Answerable *bool          `json:"answerable,omitempty"`
	ModelRaw   map[string]any `json:"llm_raw,omitempty"`
	Result     *Answer        `json:"result,omitempty"`
}

// Answer is the final synthesis output.
type Answer struct {
	Answer    string `json:"answer"`
	Reasoning string `json:"reasoning"`
}

// Trace is the complete audit log of one answering run. It is appended to in
// loop order and persisted exactly once at loop end, or not at all on failure.
type Trace struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UserQuery   string    `json:"user_query"`
	Steps       []Step    `json:"steps"`
	FinalAnswer *Answer   `json:"final_answer,omitempty"`
}

// TraceSummary is the listing view of a stored trace.
type TraceSummary struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UserQuery      string    `json:"user_query"`
	Steps          int       `json:"steps"`
	HasFinalAnswer bool      `json:"has_final_answer"`
}
