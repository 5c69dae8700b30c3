// Package events implements the per-job append-only event stream backing
// background ingestion and answering jobs.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finqa-labs/finqa/internal/domain"
)

// Journal manages one JSONL event file per job under dir.
type Journal struct {
	dir        string
	flushEvery int
	logger     *zap.Logger
}

// NewJournal creates the journal, making dir if needed.
func NewJournal(dir string, flushEvery int, logger *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}
	if flushEvery <= 0 {
		flushEvery = 5
	}
	return &Journal{dir: dir, flushEvery: flushEvery, logger: logger}, nil
}

// Open starts a job log and records the job_started event. The event is
// flushed before Open returns, so the job id resolves in Read right away.
func (j *Journal) Open(jobID string) *JobLog {
	l := &JobLog{
		path:       j.path(jobID),
		flushEvery: j.flushEvery,
		logger:     j.logger.With(zap.String("job_id", jobID)),
	}
	l.write(domain.EventJobStarted, map[string]any{})
	return l
}

// Read returns the ordered event list for a job, skipping malformed lines.
// Unknown job ids surface as ErrJobNotFound.
func (j *Journal) Read(jobID string) ([]domain.Event, error) {
	f, err := os.Open(j.path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrJobNotFound)
		}
		return nil, fmt.Errorf("open job log: %w", err)
	}
	defer f.Close()

	var out []domain.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt domain.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			continue
		}
		out = append(out, evt)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan job log: %w", err)
	}
	return out, nil
}

func (j *Journal) path(jobID string) string {
	return filepath.Join(j.dir, jobID+".jsonl")
}

// JobLog buffers events for one job and flushes to disk after flushEvery
// events, or immediately on error and terminal events. Intermediate delivery
// is best-effort; Done guarantees every prior event is durable before it
// returns.
type JobLog struct {
	path       string
	flushEvery int
	logger     *zap.Logger

	mu  sync.Mutex
	buf []string
}

var _ domain.EventSink = (*JobLog)(nil)

// Info records an informational event.
func (l *JobLog) Info(kind string, fields map[string]any) {
	data := map[string]any{"message": kind}
	for k, v := range fields {
		data[k] = v
	}
	l.write(domain.EventInfo, data)
}

// Progress records a stage progress event.
func (l *JobLog) Progress(stage string, current, total int) {
	pct := 0.0
	if total > 0 {
		pct = float64(current) / float64(total)
	}
	l.write(domain.EventProgress, map[string]any{
		"stage": stage, "current": current, "total": total, "pct": pct,
	})
}

// Error records a failure event and flushes immediately.
func (l *JobLog) Error(kind string, fields map[string]any) {
	data := map[string]any{"message": kind}
	for k, v := range fields {
		data[k] = v
	}
	l.write(domain.EventError, data)
}

// Done records the terminal event and flushes everything buffered.
func (l *JobLog) Done(fields map[string]any) {
	l.write(domain.EventJobFinished, fields)
}

func (l *JobLog) write(kind string, data map[string]any) {
	evt := domain.Event{TS: time.Now().UTC(), Kind: kind, Data: data}
	line, err := json.Marshal(evt)
	if err != nil {
		l.logger.Warn("drop unencodable event", zap.String("kind", kind), zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, string(line))
	if len(l.buf) >= l.flushEvery || kind == domain.EventJobStarted || kind == domain.EventError || kind == domain.EventJobFinished {
		l.flushLocked()
	}
}

func (l *JobLog) flushLocked() {
	if len(l.buf) == 0 {
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.logger.Error("open job log for append", zap.Error(err))
		return
	}
	defer f.Close()
	for _, line := range l.buf {
		if _, err := f.WriteString(line + "\n"); err != nil {
			l.logger.Error("append job event", zap.Error(err))
			return
		}
	}
	l.buf = l.buf[:0]
}
