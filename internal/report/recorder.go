package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/franz/media-organizer/internal/store"
)

// LogAppender is implemented by *store.Store and *store.Tx.
type LogAppender interface {
	AppendLog(ctx context.Context, e *store.LogEntry) error
}

// StoreRecorder persists events as ProcessingLog rows.
type StoreRecorder struct {
	dst   LogAppender
	runID string
}

// NewStoreRecorder records into dst, stamping events that lack a run ID
// with runID.
func NewStoreRecorder(dst LogAppender, runID string) *StoreRecorder {
	return &StoreRecorder{dst: dst, runID: runID}
}

// Record implements Recorder.
func (r *StoreRecorder) Record(ctx context.Context, e *Event) error {
	if r == nil || r.dst == nil {
		return nil
	}
	if e.RunID == "" {
		e.RunID = r.runID
	}

	entry := &store.LogEntry{
		MediaFileID: e.FileID,
		RunID:       e.RunID,
		Stage:       string(e.Stage),
		Level:       string(e.Level),
		FromStatus:  e.From,
		ToStatus:    e.To,
		ErrorKind:   e.ErrorKind,
		Message:     messageOf(e),
		CreatedAt:   e.Timestamp,
	}
	if ctxFields := contextOf(e); len(ctxFields) > 0 {
		b, err := json.Marshal(ctxFields)
		if err != nil {
			return fmt.Errorf("failed to encode log context: %w", err)
		}
		entry.ContextJSON = string(b)
	}
	return r.dst.AppendLog(ctx, entry)
}

func messageOf(e *Event) string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	case e.From != "" || e.To != "":
		return fmt.Sprintf("%s -> %s", e.From, e.To)
	default:
		return string(e.Stage)
	}
}

func contextOf(e *Event) map[string]string {
	out := make(map[string]string, len(e.Extra)+2)
	for k, v := range e.Extra {
		out[k] = v
	}
	if e.Path != "" {
		out["path"] = e.Path
	}
	if e.Error != "" && e.Message != "" {
		out["error"] = e.Error
	}
	if e.Duration > 0 {
		out["duration_ms"] = fmt.Sprintf("%d", e.Duration)
	}
	return out
}
