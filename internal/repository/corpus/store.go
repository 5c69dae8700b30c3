// Package corpus implements the persistent per-corpus vector store and the
// hybrid lexical/dense index derived from it.
package corpus

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/finqa-labs/finqa/internal/domain"
)

const (
	vectorsFile = "vectors.bin"
	metaFile    = "meta.json"

	// vectorsMagic marks the dense matrix file format.
	vectorsMagic = uint32(0x46514131) // "FQA1"
)

// Store is a persistent, id-keyed collection of embedding vectors with text
// and metadata. One Store backs one corpus. Writers mutate under mu; the
// derived hybrid index is invalidated on every mutation and rebuilt lazily by
// HybridSearch (build-then-swap, never patched in place).
type Store struct {
	mu sync.RWMutex

	dir    string
	logger *zap.Logger

	records []domain.Record
	byID    map[string]int
	dim     int
	dirty   bool
	hybrid  *Index // nil when stale
}

// metaEntry is the persisted metadata row, aligned with one matrix row.
type metaEntry struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Open loads a store from dir, creating the directory when empty. Loading
// fails (fatally for the corpus) when the matrix row count and the metadata
// list length disagree, or when row dimensionality is inconsistent.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create corpus dir: %w", err)
	}
	s := &Store{dir: dir, logger: logger, byID: map[string]int{}}

	_, metaErr := os.Stat(s.path(metaFile))
	_, vecErr := os.Stat(s.path(vectorsFile))
	if metaErr == nil && vecErr == nil {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add upserts records by id: an existing id replaces content in place, a new
// id appends. The whole batch is validated before any record is applied, so a
// dimension mismatch rejects the batch and leaves the store unchanged. With
// flush=false the mutation is buffered and the store marked dirty; bulk
// ingestion should batch adds and call Flush once at the end.
func (s *Store) Add(records []domain.Record, flush bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	for _, rec := range records {
		if dim > 0 && len(rec.Vector) != dim {
			return fmt.Errorf("record %s has dim %d, corpus has %d: %w",
				rec.ID, len(rec.Vector), dim, domain.ErrDimensionMismatch)
		}
		if dim == 0 {
			dim = len(rec.Vector)
		}
	}
	s.dim = dim

	for _, rec := range records {
		if pos, ok := s.byID[rec.ID]; ok {
			s.records[pos] = rec
		} else {
			s.byID[rec.ID] = len(s.records)
			s.records = append(s.records, rec)
		}
	}
	s.hybrid = nil

	if flush {
		return s.persist()
	}
	s.dirty = true
	return nil
}

// Flush persists buffered mutations, if any.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.persist()
}

// DeleteByFile removes every record whose metadata source_file equals
// filename and persists. Absent filenames are a no-op, not an error.
func (s *Store) DeleteByFile(filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := s.records[:0:0]
	for _, rec := range s.records {
		if rec.SourceFile() != filename {
			keep = append(keep, rec)
		}
	}
	if len(keep) == len(s.records) {
		return nil
	}
	s.records = keep
	s.byID = make(map[string]int, len(keep))
	for i, rec := range keep {
		s.byID[rec.ID] = i
	}
	if len(s.records) == 0 {
		s.dim = 0
	}
	s.hybrid = nil
	return s.persist()
}

// Search returns the topK records by cosine similarity against the query
// vector, ties broken by insertion order. An empty store yields an empty
// result, never an error.
func (s *Store) Search(query []float32, topK int) []domain.Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 || topK <= 0 {
		return nil
	}
	q := normalize(query)
	scores := make([]float64, len(s.records))
	for i, rec := range s.records {
		scores[i] = dot(normalize(rec.Vector), q)
	}
	return selectTop(s.records, scores, topK)
}

// Len returns the record count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// SourceFiles returns the distinct source_file values present, unsorted.
func (s *Store) SourceFiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	var out []string
	for _, rec := range s.records {
		if f := rec.SourceFile(); f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// persist writes the aligned (matrix, metadata list) pair. Caller holds the
// write lock.
func (s *Store) persist() error {
	meta := make([]metaEntry, len(s.records))
	for i, rec := range s.records {
		meta[i] = metaEntry{ID: rec.ID, Text: rec.Text, Metadata: rec.Metadata}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := writeAtomic(s.path(metaFile), metaBytes); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	vecBytes, err := s.encodeMatrix()
	if err != nil {
		return err
	}
	if err := writeAtomic(s.path(vectorsFile), vecBytes); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}

	s.dirty = false
	s.logger.Debug("corpus persisted",
		zap.String("dir", s.dir), zap.Int("records", len(s.records)))
	return nil
}

func (s *Store) encodeMatrix() ([]byte, error) {
	buf := make([]byte, 12, 12+len(s.records)*s.dim*4)
	binary.LittleEndian.PutUint32(buf[0:4], vectorsMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(s.records)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.dim))
	for _, rec := range s.records {
		if len(rec.Vector) != s.dim {
			return nil, fmt.Errorf("record %s has dim %d, corpus has %d: %w",
				rec.ID, len(rec.Vector), s.dim, domain.ErrDimensionMismatch)
		}
		for _, v := range rec.Vector {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf, nil
}

func (s *Store) load() error {
	metaBytes, err := os.ReadFile(s.path(metaFile))
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	var meta []metaEntry
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return fmt.Errorf("decode metadata: %w: %w", err, domain.ErrCorruptStore)
	}

	f, err := os.Open(s.path(vectorsFile))
	if err != nil {
		return fmt.Errorf("open vectors: %w", err)
	}
	defer f.Close()

	var header [12]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return fmt.Errorf("read vectors header: %w: %w", err, domain.ErrCorruptStore)
	}
	if binary.LittleEndian.Uint32(header[0:4]) != vectorsMagic {
		return fmt.Errorf("bad vectors magic: %w", domain.ErrCorruptStore)
	}
	rows := int(binary.LittleEndian.Uint32(header[4:8]))
	dim := int(binary.LittleEndian.Uint32(header[8:12]))

	if rows != len(meta) {
		return fmt.Errorf("matrix has %d rows, metadata has %d entries: %w",
			rows, len(meta), domain.ErrCorruptStore)
	}

	raw, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read vectors: %w", err)
	}
	if len(raw) != rows*dim*4 {
		return fmt.Errorf("matrix payload is %d bytes, want %d: %w",
			len(raw), rows*dim*4, domain.ErrDimensionMismatch)
	}

	s.records = make([]domain.Record, rows)
	s.byID = make(map[string]int, rows)
	for i := 0; i < rows; i++ {
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			bits := binary.LittleEndian.Uint32(raw[(i*dim+j)*4:])
			vec[j] = math.Float32frombits(bits)
		}
		s.records[i] = domain.Record{
			ID:       meta[i].ID,
			Vector:   vec,
			Text:     meta[i].Text,
			Metadata: meta[i].Metadata,
		}
		s.byID[meta[i].ID] = i
	}
	s.dim = dim
	s.logger.Info("corpus loaded",
		zap.String("dir", s.dir), zap.Int("records", rows), zap.Int("dim", dim))
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// writeAtomic writes via a temp file and rename. Last flush wins.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// IsFatalLoadError reports whether a store failed to initialize from disk.
func IsFatalLoadError(err error) bool {
	return errors.Is(err, domain.ErrCorruptStore) || errors.Is(err, domain.ErrDimensionMismatch)
}
