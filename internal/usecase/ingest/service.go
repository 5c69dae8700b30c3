// Package ingest loads finance documents into the three retrieval corpora:
// one summary record per document, chunk records and table records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/finqa-labs/finqa/internal/domain"
)

const summarySchema = `{"summary": "string"}`

// Config holds ingestion settings.
type Config struct {
	// SummaryChars bounds the document prefix sent to the summarizer.
	SummaryChars int
	// BatchSize bounds one embedding request during chunk and table ingestion.
	BatchSize int
	// WatchDir is scanned by ScanFolder for new documents.
	WatchDir string
	// SystemPrompt is the JSON-response system prompt for the summarizer.
	SystemPrompt string
	// AlphaDoc, AlphaChunk and AlphaTable weight dense vs lexical scores
	// per corpus during retrieval.
	AlphaDoc   float64
	AlphaChunk float64
	AlphaTable float64
}

// Service ingests documents and retrieves from the three corpora.
type Service struct {
	extractors []Extractor
	embedder   domain.Embedder
	completer  domain.Completer
	docs       CorpusStore
	chunks     CorpusStore
	tables     CorpusStore
	cfg        Config
	logger     *zap.Logger
}

// New creates an ingestion service.
func New(
	extractors []Extractor,
	embedder domain.Embedder,
	completer domain.Completer,
	docs, chunks, tables CorpusStore,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Service{
		extractors: extractors,
		embedder:   embedder,
		completer:  completer,
		docs:       docs,
		chunks:     chunks,
		tables:     tables,
		cfg:        cfg,
		logger:     logger,
	}
}

// AddDocument parses, summarizes and embeds one document, reporting
// progress to sink. All three stores are flushed once at the end, after
// which sink receives the terminal event with the ingest counts.
func (s *Service) AddDocument(ctx context.Context, path string, sink domain.EventSink) (domain.IngestResult, error) {
	filename := filepath.Base(path)

	ext := s.extractorFor(filename)
	if ext == nil {
		return domain.IngestResult{}, fmt.Errorf("no extractor for %q: %w", filename, domain.ErrUnsupportedFile)
	}

	sink.Info("parse_start", map[string]any{"filename": filename})
	parsed, err := ext.Extract(path)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("parse %s: %w", filename, err)
	}
	sink.Info("parse_complete", map[string]any{
		"chunks": len(parsed.Chunks),
		"tables": len(parsed.Tables),
	})

	sink.Info("summary_start", nil)
	summary, err := s.summarize(ctx, parsed.FullText)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("summarize %s: %w", filename, err)
	}
	sink.Info("summary_done", nil)

	summaryVec, err := domain.EmbedOne(ctx, s.embedder, summary)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("embed summary: %w", err)
	}
	docRecord := domain.Record{
		ID:     "doc-" + filename,
		Vector: summaryVec,
		Text:   summary,
		Metadata: map[string]any{
			domain.MetaSourceFile: filename,
			domain.MetaType:       string(domain.CorpusSummary),
		},
	}
	if err := s.docs.Add([]domain.Record{docRecord}, false); err != nil {
		return domain.IngestResult{}, fmt.Errorf("add document record: %w", err)
	}

	sink.Info("chunk_embedding_start", map[string]any{"total": len(parsed.Chunks)})
	if err := s.addChunks(ctx, filename, parsed.Chunks, sink); err != nil {
		return domain.IngestResult{}, err
	}
	sink.Info("chunk_embedding_done", map[string]any{"count": len(parsed.Chunks)})

	if len(parsed.Tables) > 0 {
		sink.Info("table_embedding_start", map[string]any{"total": len(parsed.Tables)})
		if err := s.addTables(ctx, filename, parsed.Tables, sink); err != nil {
			return domain.IngestResult{}, err
		}
		sink.Info("table_embedding_done", map[string]any{"count": len(parsed.Tables)})
	}

	for _, store := range []CorpusStore{s.docs, s.chunks, s.tables} {
		if err := store.Flush(); err != nil {
			return domain.IngestResult{}, fmt.Errorf("flush store: %w", err)
		}
	}
	sink.Info("stores_flushed", nil)

	result := domain.IngestResult{
		Filename:  filename,
		Summary:   summary,
		NumChunks: len(parsed.Chunks),
		NumTables: len(parsed.Tables),
	}
	sink.Done(map[string]any{
		"filename":   result.Filename,
		"num_chunks": result.NumChunks,
		"num_tables": result.NumTables,
	})
	return result, nil
}

func (s *Service) extractorFor(filename string) Extractor {
	for _, e := range s.extractors {
		if e.Accepts(filename) {
			return e
		}
	}
	return nil
}

func (s *Service) summarize(ctx context.Context, fullText string) (string, error) {
	coverage := fullText
	if s.cfg.SummaryChars > 0 && len(coverage) > s.cfg.SummaryChars {
		coverage = coverage[:s.cfg.SummaryChars]
	}
	data, err := s.completer.ChatJSON(ctx, s.cfg.SystemPrompt,
		"Summarize the following finance document snippet:\n"+coverage, summarySchema)
	if err != nil {
		return "", err
	}
	summary, _ := data["summary"].(string)
	return summary, nil
}

func (s *Service) addChunks(ctx context.Context, filename string, chunks []domain.ParsedChunk, sink domain.EventSink) error {
	total := len(chunks)
	for i := 0; i < total; i += s.cfg.BatchSize {
		batch := chunks[i:min(i+s.cfg.BatchSize, total)]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}
		vecs, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		records := make([]domain.Record, len(batch))
		for j, c := range batch {
			records[j] = domain.Record{
				ID:       c.ID + "-" + filename,
				Vector:   vecs[j],
				Text:     c.Text,
				Metadata: c.Metadata,
			}
		}
		if err := s.chunks.Add(records, false); err != nil {
			return fmt.Errorf("add chunk records: %w", err)
		}
		sink.Progress("chunks", min(i+s.cfg.BatchSize, total), total)
	}
	return nil
}

func (s *Service) addTables(ctx context.Context, filename string, tables []domain.ParsedTable, sink domain.EventSink) error {
	total := len(tables)
	for i := 0; i < total; i += s.cfg.BatchSize {
		batch := tables[i:min(i+s.cfg.BatchSize, total)]
		texts := make([]string, len(batch))
		for j, t := range batch {
			texts[j] = t.Text
		}
		vecs, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed tables: %w", err)
		}
		records := make([]domain.Record, len(batch))
		for j, t := range batch {
			records[j] = domain.Record{
				ID:       t.ID + "-" + filename,
				Vector:   vecs[j],
				Text:     t.Text,
				Metadata: t.Metadata,
			}
		}
		if err := s.tables.Add(records, false); err != nil {
			return fmt.Errorf("add table records: %w", err)
		}
		sink.Progress("tables", min(i+s.cfg.BatchSize, total), total)
	}
	return nil
}

// DeleteFile removes every record of filename from all three corpora.
func (s *Service) DeleteFile(filename string) error {
	return errors.Join(
		s.docs.DeleteByFile(filename),
		s.chunks.DeleteByFile(filename),
		s.tables.DeleteByFile(filename),
	)
}

// ListFiles returns the sorted union of source files across all corpora.
func (s *Service) ListFiles() []string {
	seen := make(map[string]struct{})
	for _, store := range []CorpusStore{s.docs, s.chunks, s.tables} {
		for _, f := range store.SourceFiles() {
			seen[f] = struct{}{}
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// ScanResult summarizes one watch-folder scan.
type ScanResult struct {
	Scanned  int                   `json:"scanned"`
	Ingested int                   `json:"ingested"`
	Files    []domain.IngestResult `json:"files"`
}

// ScanFolder ingests new documents from the watch directory. Already-seen
// files are skipped unless force is set; a file that fails to ingest is
// reported to sink and does not stop the scan.
func (s *Service) ScanFolder(ctx context.Context, force bool, sink domain.EventSink) (ScanResult, error) {
	result := ScanResult{Files: []domain.IngestResult{}}

	entries, err := os.ReadDir(s.cfg.WatchDir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("read watch dir: %w", err)
	}

	known := make(map[string]struct{})
	for _, f := range s.ListFiles() {
		known[f] = struct{}{}
	}

	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() || s.extractorFor(entry.Name()) == nil {
			continue
		}
		candidates = append(candidates, entry.Name())
	}
	result.Scanned = len(candidates)
	sink.Info("scan_start", map[string]any{"watch_dir": s.cfg.WatchDir, "total": len(candidates)})

	for _, name := range candidates {
		if _, ok := known[name]; ok && !force {
			continue
		}
		meta, err := s.AddDocument(ctx, filepath.Join(s.cfg.WatchDir, name), domain.NopSink{})
		if err != nil {
			s.logger.Warn("Scan ingest failed", zap.String("filename", name), zap.Error(err))
			sink.Error("file_failed", map[string]any{"filename": name, "error": err.Error()})
			continue
		}
		result.Files = append(result.Files, meta)
		sink.Info("file_ingested", map[string]any{
			"filename": name,
			"chunks":   meta.NumChunks,
			"tables":   meta.NumTables,
		})
	}
	result.Ingested = len(result.Files)
	sink.Done(map[string]any{"status": "ok", "ingested": result.Ingested})
	return result, nil
}

// RetrieveDocs runs hybrid retrieval over document summaries.
func (s *Service) RetrieveDocs(ctx context.Context, query string, topK int) ([]domain.Hit, error) {
	return s.retrieve(ctx, s.docs, query, s.cfg.AlphaDoc, topK)
}

// RetrieveChunks runs hybrid retrieval over text chunks.
func (s *Service) RetrieveChunks(ctx context.Context, query string, topK int) ([]domain.Hit, error) {
	return s.retrieve(ctx, s.chunks, query, s.cfg.AlphaChunk, topK)
}

// RetrieveTables runs hybrid retrieval over table representations.
func (s *Service) RetrieveTables(ctx context.Context, query string, topK int) ([]domain.Hit, error) {
	return s.retrieve(ctx, s.tables, query, s.cfg.AlphaTable, topK)
}

func (s *Service) retrieve(ctx context.Context, store CorpusStore, query string, alpha float64, topK int) ([]domain.Hit, error) {
	vec, err := domain.EmbedOne(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return store.HybridSearch(query, vec, alpha, topK), nil
}
