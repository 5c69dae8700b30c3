package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/finqa-labs/finqa/internal/domain"
	"github.com/finqa-labs/finqa/internal/repository/events"
	"github.com/finqa-labs/finqa/internal/repository/trace"
	answeruc "github.com/finqa-labs/finqa/internal/usecase/answer"
	ingestuc "github.com/finqa-labs/finqa/internal/usecase/ingest"
)

type mockStore struct {
	added   []domain.Record
	flushes int
	deleted []string
	sources []string
	hits    []domain.Hit
}

func (m *mockStore) Add(records []domain.Record, flush bool) error {
	m.added = append(m.added, records...)
	if flush {
		m.flushes++
	}
	return nil
}

func (m *mockStore) Flush() error {
	m.flushes++
	return nil
}

func (m *mockStore) DeleteByFile(filename string) error {
	m.deleted = append(m.deleted, filename)
	return nil
}

func (m *mockStore) HybridSearch(query string, vec []float32, alpha float64, topK int) []domain.Hit {
	return m.hits
}

func (m *mockStore) SourceFiles() []string { return m.sources }

func (m *mockStore) Len() int { return len(m.added) }

type mockExtractor struct{}

func (mockExtractor) Accepts(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".txt")
}

func (mockExtractor) Extract(path string) (domain.ParsedDocument, error) {
	return domain.ParsedDocument{
		FullText: "revenue grew in the third quarter",
		Chunks: []domain.ParsedChunk{
			{ID: "chunk-0", Text: "revenue grew", Metadata: map[string]any{
				domain.MetaSourceFile: filepath.Base(path),
				domain.MetaType:       string(domain.CorpusChunk),
			}},
		},
	}, nil
}

type mockEmbedder struct {
	err error
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// mockCompleter routes on schema keys the way each loop stage asks for them.
type mockCompleter struct {
	err error
}

func (m *mockCompleter) ChatJSON(ctx context.Context, system, user, schema string) (map[string]any, error) {
	if m.err != nil {
		return nil, m.err
	}
	switch {
	case strings.Contains(schema, "reformulated"):
		return map[string]any{"reformulated": "refined query", "reason": "clarity"}, nil
	case strings.Contains(schema, "chosen_doc"):
		return map[string]any{"chosen_doc_ids": []any{}, "reasoning": "none needed"}, nil
	case strings.Contains(schema, "relevant_chunk"):
		return map[string]any{
			"relevant_chunk_ids": []any{"chunk-0-report.txt"},
			"answerable":         true,
			"missing_info_query": "",
		}, nil
	case strings.Contains(schema, "reasoning"):
		return map[string]any{"answer": "42", "reasoning": "because"}, nil
	default:
		return map[string]any{"summary": "a summary"}, nil
	}
}

type testEnv struct {
	server  *Server
	router  *chi.Mux
	journal *events.Journal
	traces  *trace.Store
	docs    *mockStore
	chunks  *mockStore
	tables  *mockStore

	embedder  *mockEmbedder
	completer *mockCompleter
	watchDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	journal, err := events.NewJournal(t.TempDir(), 5, logger)
	if err != nil {
		t.Fatalf("events.NewJournal: %v", err)
	}
	traces, err := trace.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("trace.NewStore: %v", err)
	}

	docs := &mockStore{}
	chunks := &mockStore{hits: []domain.Hit{
		{Record: domain.Record{ID: "chunk-0-report.txt", Text: "revenue grew", Metadata: map[string]any{
			domain.MetaSourceFile: "report.txt",
		}}, Score: 0.9},
	}}
	tables := &mockStore{}
	embedder := &mockEmbedder{}
	completer := &mockCompleter{}
	watchDir := t.TempDir()

	ingestSvc := ingestuc.New(
		[]ingestuc.Extractor{mockExtractor{}},
		embedder, completer,
		docs, chunks, tables,
		ingestuc.Config{SummaryChars: 5000, BatchSize: 32, WatchDir: watchDir},
		logger,
	)
	answerSvc := answeruc.New(ingestSvc, completer, traces, answeruc.Config{
		MaxLoops: 4, TopKDocs: 6, TopKChunks: 12, TopKTables: 6, DocSummaryMaxChars: 600,
	}, logger)

	srv := NewServer(ingestSvc, answerSvc, traces, journal, docs, chunks, tables, t.TempDir(), logger)
	router := chi.NewRouter()
	srv.Register(router)

	return &testEnv{
		server: srv, router: router, journal: journal, traces: traces,
		docs: docs, chunks: chunks, tables: tables,
		embedder: embedder, completer: completer,
		watchDir: watchDir,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doJSON(t *testing.T, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return e.do(t, method, target, bytes.NewReader(data))
}

func (e *testEnv) upload(t *testing.T, target, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// waitForJob polls the journal until the job log carries a terminal event.
func (e *testEnv) waitForJob(t *testing.T, jobID string) []domain.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		evts, err := e.journal.Read(jobID)
		if err == nil {
			for _, evt := range evts {
				if evt.Kind == domain.EventJobFinished || evt.Kind == domain.EventError {
					return evts
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", jobID)
	return nil
}
