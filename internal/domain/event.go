package domain

import "time"

// Event kinds written to a job stream.
const (
	EventJobStarted  = "job_started"
	EventInfo        = "info"
	EventProgress    = "progress"
	EventError       = "error"
	EventJobFinished = "job_finished"
)

// Event is one entry of a per-job append-only stream.
type Event struct {
	TS   time.Time      `json:"ts"`
	Kind string         `json:"event"`
	Data map[string]any `json:"data"`
}

// EventSink receives progress events from long-running work. Intermediate
// events are best-effort; the terminal Done event is flushed durably before
// the call returns.
type EventSink interface {
	Info(kind string, fields map[string]any)
	Progress(stage string, current, total int)
	Error(kind string, fields map[string]any)
	Done(fields map[string]any)
}

// NopSink discards all events. Used by synchronous callers.
type NopSink struct{}

func (NopSink) Info(string, map[string]any)  {}
func (NopSink) Progress(string, int, int)    {}
func (NopSink) Error(string, map[string]any) {}
func (NopSink) Done(map[string]any)          {}
