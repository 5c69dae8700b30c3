package answer

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/finqa-labs/finqa/internal/domain"
)

type mockRetriever struct {
	docsFn   func(ctx context.Context, query string, topK int) ([]domain.Hit, error)
	chunksFn func(ctx context.Context, query string, topK int) ([]domain.Hit, error)
	tablesFn func(ctx context.Context, query string, topK int) ([]domain.Hit, error)
}

func (m *mockRetriever) RetrieveDocs(ctx context.Context, query string, topK int) ([]domain.Hit, error) {
	if m.docsFn != nil {
		return m.docsFn(ctx, query, topK)
	}
	return nil, nil
}

func (m *mockRetriever) RetrieveChunks(ctx context.Context, query string, topK int) ([]domain.Hit, error) {
	if m.chunksFn != nil {
		return m.chunksFn(ctx, query, topK)
	}
	return nil, nil
}

func (m *mockRetriever) RetrieveTables(ctx context.Context, query string, topK int) ([]domain.Hit, error) {
	if m.tablesFn != nil {
		return m.tablesFn(ctx, query, topK)
	}
	return nil, nil
}

// mockCompleter routes by the prompt prefix, mirroring the loop stages.
type mockCompleter struct {
	reformFn func(user string) (map[string]any, error)
	selectFn func(user string) (map[string]any, error)
	filterFn func(user string) (map[string]any, error)
	finalFn  func(user string) (map[string]any, error)
	stages   []string
}

func (m *mockCompleter) ChatJSON(_ context.Context, _, user, _ string) (map[string]any, error) {
	switch {
	case strings.HasPrefix(user, reformPrompt):
		m.stages = append(m.stages, "reformulate")
		if m.reformFn != nil {
			return m.reformFn(user)
		}
		return map[string]any{"reformulated": "refined query"}, nil
	case strings.HasPrefix(user, docSelectPrompt):
		m.stages = append(m.stages, "select_docs")
		if m.selectFn != nil {
			return m.selectFn(user)
		}
		return map[string]any{"chosen_doc_ids": []any{}, "reason": "none"}, nil
	case strings.HasPrefix(user, chunkFilterPrompt):
		m.stages = append(m.stages, "filter_chunks")
		if m.filterFn != nil {
			return m.filterFn(user)
		}
		return map[string]any{"relevant_chunk_ids": []any{}, "answerable": true}, nil
	default:
		m.stages = append(m.stages, "final_answer")
		if m.finalFn != nil {
			return m.finalFn(user)
		}
		return map[string]any{"answer": "42", "reasoning": "because"}, nil
	}
}

type mockTraceStore struct {
	saved  []*domain.Trace
	saveFn func(t *domain.Trace) error
}

func (m *mockTraceStore) Save(t *domain.Trace) error {
	if m.saveFn != nil {
		return m.saveFn(t)
	}
	m.saved = append(m.saved, t)
	return nil
}

func chunkHit(id, file, text string, score float64) domain.Hit {
	return domain.Hit{
		Record: domain.Record{
			ID:   id,
			Text: text,
			Metadata: map[string]any{
				domain.MetaSourceFile: file,
				domain.MetaType:       "chunk",
			},
		},
		Score: score,
	}
}

func docHit(file, summary string, score float64) domain.Hit {
	return domain.Hit{
		Record: domain.Record{
			ID:   "doc-" + file,
			Text: summary,
			Metadata: map[string]any{
				domain.MetaSourceFile: file,
				domain.MetaType:       "summary",
			},
		},
		Score: score,
	}
}

type capturedEvent struct {
	kind string
	data map[string]any
}

// captureSink records the event stream for assertions.
type captureSink struct {
	events []capturedEvent
}

func (c *captureSink) Info(kind string, fields map[string]any) {
	c.events = append(c.events, capturedEvent{kind: kind, data: fields})
}

func (c *captureSink) Progress(stage string, current, total int) {
	c.events = append(c.events, capturedEvent{kind: "progress:" + stage, data: map[string]any{
		"current": current, "total": total,
	}})
}

func (c *captureSink) Error(kind string, fields map[string]any) {
	c.events = append(c.events, capturedEvent{kind: "error:" + kind, data: fields})
}

func (c *captureSink) Done(fields map[string]any) {
	c.events = append(c.events, capturedEvent{kind: "done", data: fields})
}

func (c *captureSink) kinds() []string {
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.kind
	}
	return out
}

func newTestService(t *testing.T, cfg Config) (*Service, *mockRetriever, *mockCompleter, *mockTraceStore) {
	t.Helper()
	if cfg.TopKDocs == 0 {
		cfg.TopKDocs = 6
	}
	if cfg.TopKChunks == 0 {
		cfg.TopKChunks = 12
	}
	if cfg.TopKTables == 0 {
		cfg.TopKTables = 6
	}
	retriever := &mockRetriever{}
	completer := &mockCompleter{}
	traces := &mockTraceStore{}
	svc := New(retriever, completer, traces, cfg, zap.NewNop())
	return svc, retriever, completer, traces
}
