package ingest

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/finqa-labs/finqa/internal/domain"
)

type mockExtractor struct {
	acceptsFn func(filename string) bool
	extractFn func(path string) (domain.ParsedDocument, error)
}

func (m *mockExtractor) Accepts(filename string) bool {
	if m.acceptsFn != nil {
		return m.acceptsFn(filename)
	}
	return true
}

func (m *mockExtractor) Extract(path string) (domain.ParsedDocument, error) {
	if m.extractFn != nil {
		return m.extractFn(path)
	}
	return domain.ParsedDocument{}, nil
}

type mockEmbedder struct {
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
	calls   [][]string
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls = append(m.calls, texts)
	if m.embedFn != nil {
		return m.embedFn(ctx, texts)
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, nil
}

type mockCompleter struct {
	chatFn func(ctx context.Context, system, user, schema string) (map[string]any, error)
}

func (m *mockCompleter) ChatJSON(ctx context.Context, system, user, schema string) (map[string]any, error) {
	if m.chatFn != nil {
		return m.chatFn(ctx, system, user, schema)
	}
	return map[string]any{"summary": "a summary"}, nil
}

// mockStore records mutations in memory.
type mockStore struct {
	added    []domain.Record
	flushes  int
	deleted  []string
	sources  []string
	hits     []domain.Hit
	addErr   error
	flushErr error
}

func (m *mockStore) Add(records []domain.Record, _ bool) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.added = append(m.added, records...)
	return nil
}

func (m *mockStore) Flush() error {
	m.flushes++
	return m.flushErr
}

func (m *mockStore) DeleteByFile(filename string) error {
	m.deleted = append(m.deleted, filename)
	return nil
}

func (m *mockStore) HybridSearch(_ string, _ []float32, _ float64, _ int) []domain.Hit {
	return m.hits
}

func (m *mockStore) SourceFiles() []string { return m.sources }

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
	c.events = append(c.events, capturedEvent{kind: "progress", data: map[string]any{
		"stage": stage, "current": current, "total": total,
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

type testEnv struct {
	svc       *Service
	extractor *mockExtractor
	embedder  *mockEmbedder
	completer *mockCompleter
	docs      *mockStore
	chunks    *mockStore
	tables    *mockStore
}

func newTestService(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		extractor: &mockExtractor{},
		embedder:  &mockEmbedder{},
		completer: &mockCompleter{},
		docs:      &mockStore{},
		chunks:    &mockStore{},
		tables:    &mockStore{},
	}
	env.svc = New(
		[]Extractor{env.extractor},
		env.embedder, env.completer,
		env.docs, env.chunks, env.tables,
		cfg, zap.NewNop(),
	)
	return env
}
