// Package trace persists answering-run traces as one JSON file per trace.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/finqa-labs/finqa/internal/domain"
)

// Store reads and writes traces under dir. Traces are immutable after Save;
// they are read back only for explanation.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates the trace store, making dir if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Save persists a trace exactly once, at loop end.
func (s *Store) Save(t *domain.Trace) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	path := filepath.Join(s.dir, t.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	s.logger.Debug("trace saved", zap.String("trace_id", t.ID))
	return nil
}

// Get loads a stored trace. Unknown ids surface as ErrTraceNotFound.
func (s *Store) Get(id string) (*domain.Trace, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("trace %s: %w", id, domain.ErrTraceNotFound)
		}
		return nil, fmt.Errorf("read trace: %w", err)
	}
	var t domain.Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", id, err)
	}
	return &t, nil
}

// List returns trace summaries sorted by creation time, newest first.
// Unreadable files are skipped, not fatal.
func (s *Store) List() ([]domain.TraceSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}

	var out []domain.TraceSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		t, err := s.Get(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			s.logger.Warn("skip unreadable trace", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, domain.TraceSummary{
			ID:             t.ID,
			CreatedAt:      t.CreatedAt,
			UserQuery:      t.UserQuery,
			Steps:          len(t.Steps),
			HasFinalAnswer: t.FinalAnswer != nil,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
