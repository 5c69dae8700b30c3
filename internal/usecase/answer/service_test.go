package answer

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/finqa-labs/finqa/internal/domain"
)

func TestRun_AnswerableFirstLoop(t *testing.T) {
	svc, retriever, completer, traces := newTestService(t, Config{MaxLoops: 4})

	retriever.docsFn = func(_ context.Context, _ string, _ int) ([]domain.Hit, error) {
		return []domain.Hit{docHit("report.txt", "annual report", 0.9)}, nil
	}
	retriever.chunksFn = func(_ context.Context, _ string, _ int) ([]domain.Hit, error) {
		return []domain.Hit{chunkHit("chunk-0-report.txt", "report.txt", "revenue was 10M", 0.8)}, nil
	}
	completer.filterFn = func(_ string) (map[string]any, error) {
		return map[string]any{
			"relevant_chunk_ids": []any{"chunk-0-report.txt"},
			"answerable":         true,
		}, nil
	}

	trace, err := svc.Run(context.Background(), "what was revenue?", domain.NopSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if trace.FinalAnswer == nil || trace.FinalAnswer.Answer != "42" {
		t.Fatalf("unexpected final answer: %+v", trace.FinalAnswer)
	}
	if trace.UserQuery != "what was revenue?" {
		t.Errorf("user query = %q", trace.UserQuery)
	}

	// single loop: six steps in canonical order
	wantKinds := []domain.StepKind{
		domain.StepReformulate, domain.StepRetrieveDocs, domain.StepSelectDocs,
		domain.StepRetrieveChunks, domain.StepFilterChunks, domain.StepFinalAnswer,
	}
	gotKinds := make([]domain.StepKind, len(trace.Steps))
	for i, st := range trace.Steps {
		gotKinds[i] = st.Kind
	}
	if !reflect.DeepEqual(gotKinds, wantKinds) {
		t.Fatalf("step kinds = %v, want %v", gotKinds, wantKinds)
	}
	for _, st := range trace.Steps {
		if st.Loop != 0 {
			t.Fatalf("expected all steps in loop 0, got %+v", st)
		}
	}

	// trace persisted exactly once
	if len(traces.saved) != 1 || traces.saved[0].ID != trace.ID {
		t.Fatalf("expected one saved trace, got %d", len(traces.saved))
	}
}

func TestRun_TerminatesAtMaxLoops(t *testing.T) {
	svc, _, completer, traces := newTestService(t, Config{MaxLoops: 3})

	// never answerable: the loop must still finish with a final answer
	completer.filterFn = func(_ string) (map[string]any, error) {
		return map[string]any{
			"relevant_chunk_ids": []any{},
			"answerable":         false,
			"missing_info_query": "need the cash flow statement",
		}, nil
	}

	trace, err := svc.Run(context.Background(), "original question", domain.NopSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if trace.FinalAnswer == nil {
		t.Fatal("expected final answer at loop budget exhaustion")
	}
	last := trace.Steps[len(trace.Steps)-1]
	if last.Kind != domain.StepFinalAnswer || last.Loop != 2 {
		t.Fatalf("unexpected last step: %+v", last)
	}

	// loops after the first reformulate the refined query
	var reformInputs []string
	for _, st := range trace.Steps {
		if st.Kind == domain.StepReformulate {
			reformInputs = append(reformInputs, st.Input)
		}
	}
	want := []string{"original question", "need the cash flow statement", "need the cash flow statement"}
	if !reflect.DeepEqual(reformInputs, want) {
		t.Fatalf("reformulate inputs = %v, want %v", reformInputs, want)
	}

	if len(traces.saved) != 1 {
		t.Fatalf("expected one saved trace, got %d", len(traces.saved))
	}
}

func TestRun_SelectionRestrictsEvidence(t *testing.T) {
	svc, retriever, completer, _ := newTestService(t, Config{MaxLoops: 1})

	retriever.chunksFn = func(_ context.Context, _ string, _ int) ([]domain.Hit, error) {
		return []domain.Hit{
			chunkHit("chunk-0-a.txt", "a.txt", "alpha text", 0.9),
			chunkHit("chunk-0-b.txt", "b.txt", "beta text", 0.8),
		}, nil
	}
	completer.selectFn = func(_ string) (map[string]any, error) {
		return map[string]any{"chosen_doc_ids": []any{"doc-a.txt"}, "reason": "matches"}, nil
	}

	trace, err := svc.Run(context.Background(), "q", domain.NopSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var retrieveStep *domain.Step
	for i := range trace.Steps {
		if trace.Steps[i].Kind == domain.StepRetrieveChunks {
			retrieveStep = &trace.Steps[i]
		}
	}
	if retrieveStep == nil {
		t.Fatal("missing retrieve_chunks step")
	}
	if len(retrieveStep.Chunks) != 1 || retrieveStep.Chunks[0].ID != "chunk-0-a.txt" {
		t.Fatalf("expected only chosen-doc chunks, got %+v", retrieveStep.Chunks)
	}
}

func TestRun_EmptySelectionMeansNoRestriction(t *testing.T) {
	svc, retriever, completer, _ := newTestService(t, Config{MaxLoops: 1})

	retriever.chunksFn = func(_ context.Context, _ string, _ int) ([]domain.Hit, error) {
		return []domain.Hit{
			chunkHit("chunk-0-a.txt", "a.txt", "alpha text", 0.9),
			chunkHit("chunk-0-b.txt", "b.txt", "beta text", 0.8),
		}, nil
	}
	completer.selectFn = func(_ string) (map[string]any, error) {
		return map[string]any{"chosen_doc_ids": []any{}, "reason": "unsure"}, nil
	}

	trace, err := svc.Run(context.Background(), "q", domain.NopSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, st := range trace.Steps {
		if st.Kind == domain.StepRetrieveChunks && len(st.Chunks) != 2 {
			t.Fatalf("empty selection must keep all chunks, got %+v", st.Chunks)
		}
	}
}

func TestRun_ContextWindowBounds(t *testing.T) {
	svc, retriever, completer, _ := newTestService(t, Config{MaxLoops: 1, TopKChunks: 20, TopKTables: 10})

	many := func(prefix string, n int) []domain.Hit {
		hits := make([]domain.Hit, n)
		for i := range hits {
			hits[i] = chunkHit(prefix+string(rune('a'+i)), "f.txt", strings.Repeat("x", 600), 1.0-float64(i)/100)
		}
		return hits
	}
	retriever.chunksFn = func(_ context.Context, _ string, _ int) ([]domain.Hit, error) {
		return many("chunk-", 12), nil
	}
	retriever.tablesFn = func(_ context.Context, _ string, _ int) ([]domain.Hit, error) {
		return many("table-", 6), nil
	}

	var filterUser string
	completer.filterFn = func(user string) (map[string]any, error) {
		filterUser = user
		return map[string]any{"relevant_chunk_ids": []any{}, "answerable": true}, nil
	}

	if _, err := svc.Run(context.Background(), "q", domain.NopSink{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 8 chunks + 4 tables presented, each capped at 500 chars
	chunkCount := strings.Count(filterUser, `"id":"chunk-`)
	tableCount := strings.Count(filterUser, `"id":"table-`)
	if chunkCount != 8 || tableCount != 4 {
		t.Fatalf("context window = %d chunks, %d tables", chunkCount, tableCount)
	}
	if strings.Contains(filterUser, strings.Repeat("x", 501)) {
		t.Fatal("chunk text not truncated to preview length")
	}
}

func TestRun_AccumulatesAcrossLoops(t *testing.T) {
	svc, retriever, completer, _ := newTestService(t, Config{MaxLoops: 2})

	loop := 0
	retriever.chunksFn = func(_ context.Context, _ string, _ int) ([]domain.Hit, error) {
		if loop == 0 {
			return []domain.Hit{chunkHit("chunk-first", "a.txt", "first evidence", 0.9)}, nil
		}
		return []domain.Hit{chunkHit("chunk-second", "a.txt", "second evidence", 0.9)}, nil
	}
	completer.filterFn = func(_ string) (map[string]any, error) {
		defer func() { loop++ }()
		if loop == 0 {
			return map[string]any{
				"relevant_chunk_ids": []any{"chunk-first"},
				"answerable":         false,
				"missing_info_query": "more",
			}, nil
		}
		return map[string]any{
			"relevant_chunk_ids": []any{"chunk-second"},
			"answerable":         true,
		}, nil
	}

	var finalUser string
	completer.finalFn = func(user string) (map[string]any, error) {
		finalUser = user
		return map[string]any{"answer": "a", "reasoning": "r"}, nil
	}

	if _, err := svc.Run(context.Background(), "q", domain.NopSink{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(finalUser, "chunk-first") || !strings.Contains(finalUser, "chunk-second") {
		t.Fatalf("final context must include evidence from every loop: %s", finalUser)
	}
}

func TestRun_ModelFailureSavesNothing(t *testing.T) {
	svc, _, completer, traces := newTestService(t, Config{MaxLoops: 2})
	completer.reformFn = func(_ string) (map[string]any, error) {
		return nil, domain.ErrModelCall
	}

	_, err := svc.Run(context.Background(), "q", domain.NopSink{})
	if !errors.Is(err, domain.ErrModelCall) {
		t.Fatalf("expected ErrModelCall, got %v", err)
	}
	if len(traces.saved) != 0 {
		t.Fatal("no trace must be saved on failure")
	}
}

func TestRun_RetrievalFailureSavesNothing(t *testing.T) {
	svc, retriever, _, traces := newTestService(t, Config{MaxLoops: 2})
	retriever.docsFn = func(context.Context, string, int) ([]domain.Hit, error) {
		return nil, domain.ErrModelCall
	}

	if _, err := svc.Run(context.Background(), "q", domain.NopSink{}); err == nil {
		t.Fatal("expected error")
	}
	if len(traces.saved) != 0 {
		t.Fatal("no trace must be saved on failure")
	}
}

func TestRun_TraceSaveFailure(t *testing.T) {
	svc, _, _, traces := newTestService(t, Config{MaxLoops: 1})
	traces.saveFn = func(*domain.Trace) error { return errors.New("disk full") }

	if _, err := svc.Run(context.Background(), "q", domain.NopSink{}); err == nil {
		t.Fatal("expected error when trace persistence fails")
	}
}

func TestRun_EventStream(t *testing.T) {
	svc, _, _, _ := newTestService(t, Config{MaxLoops: 1})

	sink := &captureSink{}
	trace, err := svc.Run(context.Background(), "q", sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kinds := sink.kinds()
	if kinds[0] != "loop_start" {
		t.Fatalf("first event = %s", kinds[0])
	}
	if kinds[len(kinds)-2] != "trace_saved" || kinds[len(kinds)-1] != "done" {
		t.Fatalf("terminal events = %v", kinds)
	}

	last := sink.events[len(sink.events)-1]
	if last.data["trace_id"] != trace.ID {
		t.Fatalf("done event must carry the trace id, got %v", last.data)
	}
}

func TestExplain(t *testing.T) {
	answerable := true
	trace := &domain.Trace{
		UserQuery: "what was revenue?",
		Steps: []domain.Step{
			{Loop: 0, Kind: domain.StepReformulate, Input: "what was revenue?", Output: "2024 revenue"},
			{Loop: 0, Kind: domain.StepRetrieveDocs, Candidates: []domain.Evidence{{ID: "doc-a"}, {ID: "doc-b"}}},
			{Loop: 0, Kind: domain.StepSelectDocs, Selection: []string{"doc-a"}},
			{Loop: 0, Kind: domain.StepRetrieveChunks, Chunks: []domain.Evidence{{ID: "c1"}}, Tables: nil},
			{Loop: 0, Kind: domain.StepFilterChunks, Selected: []string{"c1"}, Answerable: &answerable},
			{Loop: 0, Kind: domain.StepFinalAnswer, Result: &domain.Answer{Answer: "10M"}},
		},
	}

	got := Explain(trace)
	wantLines := []string{
		"Answering question: what was revenue?",
		"Loop 0: Reformulated query -> 2024 revenue",
		"Retrieved 2 candidate summaries",
		"Selected docs: [doc-a]",
		"Retrieved 1 chunks and 0 tables",
		"Filter selected 1 chunks, answerable=true",
		"Final answer produced",
	}
	if got != strings.Join(wantLines, "\n") {
		t.Fatalf("explanation mismatch:\n%s", got)
	}
}
