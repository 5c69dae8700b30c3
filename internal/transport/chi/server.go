// Package chi exposes the ingestion and answering services over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finqa-labs/finqa/internal/domain"
	"github.com/finqa-labs/finqa/internal/repository/events"
	"github.com/finqa-labs/finqa/internal/repository/trace"
	answeruc "github.com/finqa-labs/finqa/internal/usecase/answer"
	ingestuc "github.com/finqa-labs/finqa/internal/usecase/ingest"
)

// Error codes returned in JSON error bodies.
const (
	codeBadRequest    = "bad_request"
	codeNotFound      = "not_found"
	codeUnsupported   = "unsupported_file"
	codeModelError    = "model_error"
	codeInternalError = "internal_error"
)

const maxUploadBytes = 32 << 20

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Counter reports the number of live records in one corpus.
type Counter interface {
	Len() int
}

// Server wires the HTTP API over the ingest and answer services.
type Server struct {
	ingest    *ingestuc.Service
	answer    *answeruc.Service
	traces    *trace.Store
	journal   *events.Journal
	docs      Counter
	chunks    Counter
	tables    Counter
	uploadDir string
	logger    *zap.Logger

	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	ingest *ingestuc.Service,
	answer *answeruc.Service,
	traces *trace.Store,
	journal *events.Journal,
	docs, chunks, tables Counter,
	uploadDir string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		ingest:    ingest,
		answer:    answer,
		traces:    traces,
		journal:   journal,
		docs:      docs,
		chunks:    chunks,
		tables:    tables,
		uploadDir: uploadDir,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrTraceNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrJobNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrUnsupportedFile, http.StatusBadRequest, codeUnsupported),
		sentinelHandler(domain.ErrParseDocument, http.StatusBadRequest, codeBadRequest),
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusBadRequest, codeBadRequest),
		sentinelHandler(domain.ErrModelCall, http.StatusBadGateway, codeModelError),
	}
	return s
}

// Register mounts every route on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.Health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/files", s.ListFiles)
	r.Delete("/files/{filename}", s.DeleteFile)

	r.Post("/upload", s.Upload)
	r.Post("/upload_async", s.UploadAsync)
	r.Post("/scan", s.Scan)

	r.Post("/question", s.Question)
	r.Post("/question_async", s.QuestionAsync)
	r.Post("/explain", s.Explain)

	r.Get("/jobs/{job_id}", s.JobEvents)
	r.Get("/traces", s.ListTraces)
	r.Get("/traces/{trace_id}", s.GetTrace)
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"docs":   s.docs.Len(),
		"chunks": s.chunks.Len(),
		"tables": s.tables.Len(),
	})
}

// ListFiles handles GET /files.
func (s *Server) ListFiles(w http.ResponseWriter, r *http.Request) {
	files := s.ingest.ListFiles()
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// DeleteFile handles DELETE /files/{filename}.
func (s *Server) DeleteFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "filename is required")
		return
	}
	if err := s.ingest.DeleteFile(filename); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "filename": filename})
}

// Upload handles POST /upload: store the file and ingest it synchronously.
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	path, err := s.saveUpload(w, r)
	if err != nil {
		return // saveUpload already wrote the response
	}

	meta, err := s.ingest.AddDocument(r.Context(), path, domain.NopSink{})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"filename":   meta.Filename,
		"summary":    meta.Summary,
		"num_chunks": meta.NumChunks,
		"num_tables": meta.NumTables,
	})
}

// UploadAsync handles POST /upload_async: store the file and ingest it in the
// background, streaming progress to a job log.
func (s *Server) UploadAsync(w http.ResponseWriter, r *http.Request) {
	path, err := s.saveUpload(w, r)
	if err != nil {
		return
	}

	jobID := uuid.NewString()
	log := s.journal.Open(jobID)
	go func() {
		if _, err := s.ingest.AddDocument(context.Background(), path, log); err != nil {
			s.logger.Error("background ingest failed",
				zap.String("job_id", jobID), zap.String("path", path), zap.Error(err))
			log.Error("ingest_failed", map[string]any{"error": err.Error()})
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"job_id":   jobID,
		"filename": filepath.Base(path),
	})
}

// Scan handles POST /scan: ingest every supported file in the watch folder.
// ?force=true re-ingests files already present in the corpora.
func (s *Server) Scan(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "force must be a boolean")
			return
		}
		force = v
	}

	res, err := s.ingest.ScanFolder(r.Context(), force, domain.NopSink{})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"scanned":  res.Scanned,
		"ingested": res.Ingested,
		"files":    res.Files,
	})
}

type questionRequest struct {
	Question string `json:"question"`
}

// Question handles POST /question: run the answering loop synchronously and
// return the full trace.
func (s *Server) Question(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeQuestion(w, r)
	if !ok {
		return
	}

	t, err := s.answer.Run(r.Context(), q, domain.NopSink{})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// QuestionAsync handles POST /question_async: run the answering loop in the
// background, streaming progress to a job log.
func (s *Server) QuestionAsync(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeQuestion(w, r)
	if !ok {
		return
	}

	jobID := uuid.NewString()
	log := s.journal.Open(jobID)
	go func() {
		log.Info("qa_loop_start", map[string]any{"question": q})
		if _, err := s.answer.Run(context.Background(), q, log); err != nil {
			s.logger.Error("background answering failed",
				zap.String("job_id", jobID), zap.Error(err))
			log.Error("qa_failed", map[string]any{"error": err.Error()})
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"job_id": jobID,
	})
}

type explainRequest struct {
	TraceID string `json:"trace_id"`
}

// Explain handles POST /explain: render a stored trace as readable text.
func (s *Server) Explain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TraceID == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "trace_id is required")
		return
	}

	t, err := s.traces.Get(req.TraceID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trace_id":    t.ID,
		"explanation": answeruc.Explain(t),
	})
}

// JobEvents handles GET /jobs/{job_id}.
func (s *Server) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	evts, err := s.journal.Read(jobID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if evts == nil {
		evts = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "events": evts})
}

// ListTraces handles GET /traces.
func (s *Server) ListTraces(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.traces.List()
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if summaries == nil {
		summaries = []domain.TraceSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": summaries})
}

// GetTrace handles GET /traces/{trace_id}.
func (s *Server) GetTrace(w http.ResponseWriter, r *http.Request) {
	t, err := s.traces.Get(chi.URLParam(r, "trace_id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// saveUpload extracts the multipart file and writes it under uploadDir.
// On failure it writes the error response and returns a non-nil error.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid multipart form: "+err.Error())
		return "", err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, `multipart field "file" is required`)
		return "", err
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "upload filename is required")
		return "", errors.New("empty upload filename")
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		s.logger.Error("create upload dir", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
		return "", err
	}
	path := filepath.Join(s.uploadDir, filename)
	dst, err := os.Create(path)
	if err != nil {
		s.logger.Error("create upload file", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		s.logger.Error("write upload file", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
		return "", err
	}
	return path, nil
}

func (s *Server) decodeQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return "", false
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "question is required")
		return "", false
	}
	return req.Question, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrTraceNotFound,
		domain.ErrJobNotFound,
		domain.ErrNotFound,
		domain.ErrUnsupportedFile,
		domain.ErrParseDocument,
		domain.ErrDimensionMismatch,
		domain.ErrModelCall,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
