package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/franz/media-organizer/internal/util"
)

// ReviewEntry is a file waiting for (or resolved by) a human decision.
type ReviewEntry struct {
	ID              int64
	MediaFileID     int64
	ProvisionalJSON string
	Confidence      float64
	PreBoost        float64
	Reason          string
	EnqueuedAt      time.Time
	ResolvedAt      *time.Time
	Resolution      string
	Reviewer        string
	Notes           string
}

const reviewColumns = `id, media_file_id, provisional_json, confidence, pre_boost, reason, enqueued_at,
	resolved_at, COALESCE(resolution, ''), COALESCE(reviewer, ''), COALESCE(notes, '')`

func scanReview(row interface{ Scan(...any) error }) (*ReviewEntry, error) {
	e := &ReviewEntry{}
	var resolved sql.NullTime
	err := row.Scan(&e.ID, &e.MediaFileID, &e.ProvisionalJSON, &e.Confidence, &e.PreBoost, &e.Reason,
		&e.EnqueuedAt, &resolved, &e.Resolution, &e.Reviewer, &e.Notes)
	if err != nil {
		return nil, err
	}
	if resolved.Valid {
		t := resolved.Time
		e.ResolvedAt = &t
	}
	return e, nil
}

// EnqueueReview opens a review entry. A second open entry for the same
// file violates the partial unique index and fails with ErrConflict.
func (q *queries) EnqueueReview(ctx context.Context, e *ReviewEntry) error {
	ts := now()
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO review_queue (media_file_id, provisional_json, confidence, pre_boost, reason, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.MediaFileID, e.ProvisionalJSON, e.Confidence, e.PreBoost, e.Reason, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: file %d already has an open review entry", util.ErrConflict, e.MediaFileID)
		}
		return wrapErr("enqueue review", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	e.EnqueuedAt = ts
	return nil
}

// GetOpenReview returns the unresolved entry for a file, or nil.
func (q *queries) GetOpenReview(ctx context.Context, fileID int64) (*ReviewEntry, error) {
	e, err := scanReview(q.q.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM review_queue WHERE media_file_id = ? AND resolved_at IS NULL`, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get review entry", err)
	}
	return e, nil
}

// ListOpenReviews returns unresolved entries, oldest first.
func (q *queries) ListOpenReviews(ctx context.Context, limit int) ([]*ReviewEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+reviewColumns+` FROM review_queue
		WHERE resolved_at IS NULL
		ORDER BY enqueued_at, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, wrapErr("list review entries", err)
	}
	defer rows.Close()

	var entries []*ReviewEntry
	for rows.Next() {
		e, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ResolveReview closes the open entry for a file.
func (q *queries) ResolveReview(ctx context.Context, entryID int64, resolution, reviewer, notes string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE review_queue SET resolved_at = ?, resolution = ?, reviewer = ?, notes = ?
		WHERE id = ? AND resolved_at IS NULL
	`, now(), resolution, nullString(reviewer), nullString(notes), entryID)
	if err != nil {
		return wrapErr("resolve review entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("resolve review entry", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: review entry %d already resolved", util.ErrConflict, entryID)
	}
	return nil
}

// ReviewInvariantViolation describes a file whose status and open review
// entry disagree.
type ReviewInvariantViolation struct {
	MediaFileID int64
	Status      Status
	OpenEntries int
}

func (v ReviewInvariantViolation) String() string {
	return fmt.Sprintf("file %d status=%s open_entries=%d", v.MediaFileID, v.Status, v.OpenEntries)
}

// CheckReviewInvariant lists files where pending_review and "has exactly
// one open review entry" do not coincide.
func (q *queries) CheckReviewInvariant(ctx context.Context) ([]ReviewInvariantViolation, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT f.id, f.status, COUNT(r.id) AS open_entries
		FROM media_files f
		LEFT JOIN review_queue r ON r.media_file_id = f.id AND r.resolved_at IS NULL
		GROUP BY f.id, f.status
		HAVING (f.status = 'pending_review' AND open_entries != 1)
		    OR (f.status != 'pending_review' AND open_entries != 0)
		ORDER BY f.id
	`)
	if err != nil {
		return nil, wrapErr("check review invariant", err)
	}
	defer rows.Close()

	var out []ReviewInvariantViolation
	for rows.Next() {
		var v ReviewInvariantViolation
		var status string
		if err := rows.Scan(&v.MediaFileID, &status, &v.OpenEntries); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		v.Status = Status(status)
		out = append(out, v)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 2067 { // SQLITE_CONSTRAINT_UNIQUE
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
