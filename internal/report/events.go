// Package report records the audit trail of the pipeline: a JSONL event
// log on disk, ProcessingLog rows in the store, and run summaries.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Stage names the pipeline step that emitted an event
type Stage string

const (
	StageDiscover  Stage = "discover"
	StageExtract   Stage = "extract"
	StageVectorize Stage = "vectorize"
	StageMatch     Stage = "match"
	StageLookup    Stage = "lookup"
	StageScore     Stage = "score"
	StageRoute     Stage = "route"
	StageReview    Stage = "review"
	StageTrain     Stage = "train"
	StageBatch     Stage = "batch"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event is a single auditable step
type Event struct {
	Timestamp time.Time         `json:"ts"`
	Level     EventLevel        `json:"level"`
	Stage     Stage             `json:"stage"`
	RunID     string            `json:"run_id,omitempty"`
	FileID    int64             `json:"file_id,omitempty"`
	Path      string            `json:"path,omitempty"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Message   string            `json:"message,omitempty"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  int64             `json:"duration_ms,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Recorder is the audit collaborator. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, e *Event) error
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates events-<timestamp>.jsonl in outputDir. Events
// below minLevel are dropped.
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(outputDir, fmt.Sprintf("events-%s.jsonl", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}
	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

// Record implements Recorder.
func (l *EventLogger) Record(_ context.Context, e *Event) error {
	return l.Log(e)
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}

// Multi fans an event out to every recorder. All recorders are tried; the
// errors are joined.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(ctx context.Context, e *Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Transition builds the event for a status change.
func Transition(stage Stage, fileID int64, path, from, to string) *Event {
	return &Event{
		Level:  LevelInfo,
		Stage:  stage,
		FileID: fileID,
		Path:   path,
		From:   from,
		To:     to,
	}
}

// Failure builds an error event carrying the error kind.
func Failure(stage Stage, fileID int64, path, kind string, err error) *Event {
	e := &Event{
		Level:     LevelError,
		Stage:     stage,
		FileID:    fileID,
		Path:      path,
		ErrorKind: kind,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
