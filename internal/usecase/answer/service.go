// Package answer runs the bounded agentic question-answering loop:
// reformulate, retrieve and select documents, retrieve and filter chunks,
// and produce a final answer, recording every step in an auditable trace.
package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finqa-labs/finqa/internal/domain"
)

const (
	maxContextChunks   = 8
	maxContextTables   = 4
	chunkPreviewChars  = 500
	answerContextChars = 1200
)

// Config holds the loop settings.
type Config struct {
	MaxLoops           int
	TopKDocs           int
	TopKChunks         int
	TopKTables         int
	DocSummaryMaxChars int
	SystemPrompt       string
}

// Service runs the question-answering loop.
type Service struct {
	retriever Retriever
	completer domain.Completer
	traces    TraceStore
	cfg       Config
	logger    *zap.Logger
}

// New creates an answering service.
func New(retriever Retriever, completer domain.Completer, traces TraceStore, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxLoops <= 0 {
		cfg.MaxLoops = 4
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Service{
		retriever: retriever,
		completer: completer,
		traces:    traces,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run answers userQuery, reporting progress to sink. The completed trace
// is persisted exactly once before returning; a model or retrieval failure
// aborts the loop and nothing is saved.
func (s *Service) Run(ctx context.Context, userQuery string, sink domain.EventSink) (*domain.Trace, error) {
	trace := &domain.Trace{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		UserQuery: userQuery,
	}
	sink.Info("loop_start", map[string]any{"trace_id": trace.ID})

	// relevant evidence accumulated across loops, in first-seen order
	var accumulated []domain.Evidence
	accepted := make(map[string]struct{})

	currentQuery := userQuery
	for loop := 0; loop < s.cfg.MaxLoops; loop++ {
		sink.Progress(string(domain.StepReformulate), loop, s.cfg.MaxLoops)
		reformulated, err := s.reformulate(ctx, trace, loop, currentQuery)
		if err != nil {
			return nil, err
		}

		sink.Progress(string(domain.StepRetrieveDocs), loop, s.cfg.MaxLoops)
		docs, err := s.retrieveDocs(ctx, trace, loop, reformulated)
		if err != nil {
			return nil, err
		}

		chosen, err := s.selectDocs(ctx, trace, loop, reformulated, docs)
		if err != nil {
			return nil, err
		}

		sink.Progress(string(domain.StepRetrieveChunks), loop, s.cfg.MaxLoops)
		chunks, tables, err := s.retrieveEvidence(ctx, trace, loop, reformulated, chosen)
		if err != nil {
			return nil, err
		}

		sink.Progress(string(domain.StepFilterChunks), loop, s.cfg.MaxLoops)
		limited := limitEvidence(chunks, tables)
		filter, answerable, err := s.filterChunks(ctx, trace, loop, reformulated, limited)
		if err != nil {
			return nil, err
		}
		for _, ev := range limited {
			if _, ok := filter[ev.ID]; !ok {
				continue
			}
			if _, seen := accepted[ev.ID]; seen {
				continue
			}
			accepted[ev.ID] = struct{}{}
			accumulated = append(accumulated, ev)
		}

		if answerable || loop == s.cfg.MaxLoops-1 {
			sink.Progress(string(domain.StepFinalAnswer), loop, s.cfg.MaxLoops)
			if err := s.finalAnswer(ctx, trace, loop, userQuery, accumulated); err != nil {
				return nil, err
			}
			break
		}
		currentQuery = s.nextQuery(trace, currentQuery)
	}

	if err := s.traces.Save(trace); err != nil {
		return nil, fmt.Errorf("save trace: %w", err)
	}
	sink.Info("trace_saved", map[string]any{"trace_id": trace.ID})
	sink.Done(map[string]any{"status": "ok", "trace_id": trace.ID})

	s.logger.Info("Answer loop finished",
		zap.String("trace_id", trace.ID),
		zap.Int("steps", len(trace.Steps)),
	)
	return trace, nil
}

func (s *Service) reformulate(ctx context.Context, trace *domain.Trace, loop int, currentQuery string) (string, error) {
	resp, err := s.completer.ChatJSON(ctx, s.cfg.SystemPrompt,
		reformPrompt+"\nQuery: "+currentQuery, reformSchema)
	if err != nil {
		return "", fmt.Errorf("reformulate: %w", err)
	}
	reformulated := stringField(resp, "reformulated", currentQuery)
	trace.Steps = append(trace.Steps, domain.Step{
		Loop:   loop,
		Kind:   domain.StepReformulate,
		Input:  currentQuery,
		Output: reformulated,
	})
	return reformulated, nil
}

func (s *Service) retrieveDocs(ctx context.Context, trace *domain.Trace, loop int, query string) ([]domain.Evidence, error) {
	hits, err := s.retriever.RetrieveDocs(ctx, query, s.cfg.TopKDocs)
	if err != nil {
		return nil, fmt.Errorf("retrieve docs: %w", err)
	}
	docs := toEvidence(hits)
	trace.Steps = append(trace.Steps, domain.Step{
		Loop:       loop,
		Kind:       domain.StepRetrieveDocs,
		Candidates: docs,
	})
	return docs, nil
}

func (s *Service) selectDocs(ctx context.Context, trace *domain.Trace, loop int, query string, docs []domain.Evidence) (map[string]struct{}, error) {
	type docView struct {
		ID      string  `json:"id"`
		Score   float64 `json:"score"`
		Summary string  `json:"summary"`
	}
	views := make([]docView, len(docs))
	for i, d := range docs {
		views[i] = docView{
			ID:      d.ID,
			Score:   math.Round(d.Score*1e4) / 1e4,
			Summary: truncate(d.Text, s.cfg.DocSummaryMaxChars),
		}
	}
	docContext, err := json.Marshal(views)
	if err != nil {
		return nil, fmt.Errorf("marshal doc context: %w", err)
	}

	resp, err := s.completer.ChatJSON(ctx, s.cfg.SystemPrompt,
		docSelectPrompt+"\nQuery: "+query+"\nDocs: "+string(docContext), selectSchema)
	if err != nil {
		return nil, fmt.Errorf("select docs: %w", err)
	}

	chosenIDs := stringSlice(resp, "chosen_doc_ids")
	trace.Steps = append(trace.Steps, domain.Step{
		Loop:      loop,
		Kind:      domain.StepSelectDocs,
		Selection: chosenIDs,
		ModelRaw:  resp,
	})

	chosen := make(map[string]struct{}, len(chosenIDs))
	for _, id := range chosenIDs {
		chosen[id] = struct{}{}
	}
	return chosen, nil
}

func (s *Service) retrieveEvidence(ctx context.Context, trace *domain.Trace, loop int, query string, chosen map[string]struct{}) ([]domain.Evidence, []domain.Evidence, error) {
	chunkHits, err := s.retriever.RetrieveChunks(ctx, query, s.cfg.TopKChunks)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve chunks: %w", err)
	}
	tableHits, err := s.retriever.RetrieveTables(ctx, query, s.cfg.TopKTables)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve tables: %w", err)
	}

	chunks := toEvidence(chunkHits)
	tables := toEvidence(tableHits)
	// An empty selection means no restriction.
	if len(chosen) > 0 {
		chunks = filterBySource(chunks, chosen)
		tables = filterBySource(tables, chosen)
	}

	trace.Steps = append(trace.Steps, domain.Step{
		Loop:   loop,
		Kind:   domain.StepRetrieveChunks,
		Chunks: chunks,
		Tables: tables,
	})
	return chunks, tables, nil
}

func (s *Service) filterChunks(ctx context.Context, trace *domain.Trace, loop int, query string, limited []domain.Evidence) (map[string]struct{}, bool, error) {
	type chunkView struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	views := make([]chunkView, len(limited))
	for i, ev := range limited {
		views[i] = chunkView{ID: ev.ID, Text: truncate(ev.Text, chunkPreviewChars)}
	}
	chunkContext, err := json.Marshal(views)
	if err != nil {
		return nil, false, fmt.Errorf("marshal chunk context: %w", err)
	}

	resp, err := s.completer.ChatJSON(ctx, s.cfg.SystemPrompt,
		chunkFilterPrompt+"\nQuery: "+query+"\nChunks: "+string(chunkContext), filterSchema)
	if err != nil {
		return nil, false, fmt.Errorf("filter chunks: %w", err)
	}

	relIDs := stringSlice(resp, "relevant_chunk_ids")
	answerable := boolField(resp, "answerable")
	trace.Steps = append(trace.Steps, domain.Step{
		Loop:       loop,
		Kind:       domain.StepFilterChunks,
		Selected:   relIDs,
		Answerable: &answerable,
		ModelRaw:   resp,
	})

	rel := make(map[string]struct{}, len(relIDs))
	for _, id := range relIDs {
		rel[id] = struct{}{}
	}
	return rel, answerable, nil
}

func (s *Service) finalAnswer(ctx context.Context, trace *domain.Trace, loop int, userQuery string, accumulated []domain.Evidence) error {
	type contextView struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	views := make([]contextView, len(accumulated))
	for i, ev := range accumulated {
		views[i] = contextView{ID: ev.ID, Text: truncate(ev.Text, answerContextChars)}
	}
	finalContext, err := json.Marshal(views)
	if err != nil {
		return fmt.Errorf("marshal final context: %w", err)
	}

	resp, err := s.completer.ChatJSON(ctx, s.cfg.SystemPrompt,
		finalAnswerPrompt+"\nQuery: "+userQuery+"\nChunks: "+string(finalContext), finalSchema)
	if err != nil {
		return fmt.Errorf("final answer: %w", err)
	}

	result := &domain.Answer{
		Answer:    stringField(resp, "answer", ""),
		Reasoning: stringField(resp, "reasoning", ""),
	}
	trace.Steps = append(trace.Steps, domain.Step{
		Loop:   loop,
		Kind:   domain.StepFinalAnswer,
		Result: result,
	})
	trace.FinalAnswer = result
	return nil
}

// nextQuery pulls missing_info_query from the newest filter step.
func (s *Service) nextQuery(trace *domain.Trace, currentQuery string) string {
	for i := len(trace.Steps) - 1; i >= 0; i-- {
		if trace.Steps[i].Kind == domain.StepFilterChunks {
			return stringField(trace.Steps[i].ModelRaw, "missing_info_query", currentQuery)
		}
	}
	return currentQuery
}

// Explain renders a stored trace as a readable narrative.
func Explain(trace *domain.Trace) string {
	parts := []string{"Answering question: " + trace.UserQuery}
	for _, step := range trace.Steps {
		switch step.Kind {
		case domain.StepReformulate:
			parts = append(parts, fmt.Sprintf("Loop %d: Reformulated query -> %s", step.Loop, step.Output))
		case domain.StepRetrieveDocs:
			parts = append(parts, fmt.Sprintf("Retrieved %d candidate summaries", len(step.Candidates)))
		case domain.StepSelectDocs:
			parts = append(parts, fmt.Sprintf("Selected docs: %v", step.Selection))
		case domain.StepRetrieveChunks:
			parts = append(parts, fmt.Sprintf("Retrieved %d chunks and %d tables", len(step.Chunks), len(step.Tables)))
		case domain.StepFilterChunks:
			answerable := step.Answerable != nil && *step.Answerable
			parts = append(parts, fmt.Sprintf("Filter selected %d chunks, answerable=%v", len(step.Selected), answerable))
		case domain.StepFinalAnswer:
			parts = append(parts, "Final answer produced")
		}
	}
	return strings.Join(parts, "\n")
}

func limitEvidence(chunks, tables []domain.Evidence) []domain.Evidence {
	limited := make([]domain.Evidence, 0, maxContextChunks+maxContextTables)
	limited = append(limited, chunks[:min(maxContextChunks, len(chunks))]...)
	limited = append(limited, tables[:min(maxContextTables, len(tables))]...)
	return limited
}

func filterBySource(evs []domain.Evidence, chosen map[string]struct{}) []domain.Evidence {
	out := evs[:0:0]
	for _, ev := range evs {
		if _, ok := chosen["doc-"+ev.SourceFile()]; ok {
			out = append(out, ev)
		}
	}
	return out
}

func toEvidence(hits []domain.Hit) []domain.Evidence {
	out := make([]domain.Evidence, len(hits))
	for i, h := range hits {
		out[i] = domain.EvidenceFromHit(h)
	}
	return out
}

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return fallback
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringSlice(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
