package store

import (
	"context"
	"fmt"
	"time"
)

// LogEntry is one append-only ProcessingLog row.
type LogEntry struct {
	ID          int64
	MediaFileID int64 // 0 for batch-level entries
	RunID       string
	Stage       string
	Level       string
	FromStatus  string
	ToStatus    string
	ErrorKind   string
	Message     string
	ContextJSON string
	CreatedAt   time.Time
}

// AppendLog inserts a processing log row.
func (q *queries) AppendLog(ctx context.Context, e *LogEntry) error {
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = now()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO processing_logs (media_file_id, run_id, stage, level, from_status, to_status,
		                             error_kind, message, context_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullInt64(e.MediaFileID), nullString(e.RunID), e.Stage, e.Level, nullString(e.FromStatus),
		nullString(e.ToStatus), nullString(e.ErrorKind), e.Message, nullString(e.ContextJSON), ts)
	if err != nil {
		return wrapErr("append processing log", err)
	}
	return nil
}

// ListLogs returns the processing history of one file, oldest first.
func (q *queries) ListLogs(ctx context.Context, fileID int64) ([]*LogEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, COALESCE(media_file_id, 0), COALESCE(run_id, ''), stage, level,
		       COALESCE(from_status, ''), COALESCE(to_status, ''), COALESCE(error_kind, ''),
		       message, COALESCE(context_json, ''), created_at
		FROM processing_logs WHERE media_file_id = ? ORDER BY id
	`, fileID)
	if err != nil {
		return nil, wrapErr("list processing logs", err)
	}
	defer rows.Close()

	var out []*LogEntry
	for rows.Next() {
		e := &LogEntry{}
		if err := rows.Scan(&e.ID, &e.MediaFileID, &e.RunID, &e.Stage, &e.Level, &e.FromStatus,
			&e.ToStatus, &e.ErrorKind, &e.Message, &e.ContextJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan processing log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
