package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/franz/media-organizer/internal/util"
)

// MediaFile is one ingested file and its lifecycle position.
type MediaFile struct {
	ID          int64
	Path        string
	ContentHash string
	SizeBytes   int64
	Kind        Kind
	Status      Status
	Version     int64
	ErrorKind   string
	Error       string
	DuplicateOf int64 // earliest file with identical content, 0 if none
	IngestedAt  time.Time
	UpdatedAt   time.Time
}

const mediaFileColumns = `
	id, path, content_hash, size_bytes, kind, status, version,
	COALESCE(error_kind, ''), COALESCE(error, ''), COALESCE(duplicate_of, 0), ingested_at, updated_at`

func scanMediaFile(row interface{ Scan(...any) error }) (*MediaFile, error) {
	f := &MediaFile{}
	var kind, status string
	err := row.Scan(&f.ID, &f.Path, &f.ContentHash, &f.SizeBytes, &kind, &status, &f.Version,
		&f.ErrorKind, &f.Error, &f.DuplicateOf, &f.IngestedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.Kind = Kind(kind)
	f.Status = Status(status)
	return f, nil
}

// RegisterFile records a discovered file. Registering the same path again
// returns the existing row; content changes are only picked up while the
// file has not been fingerprinted yet. A file whose content hash matches an
// earlier row gets DuplicateOf set to that row.
func (q *queries) RegisterFile(ctx context.Context, path, contentHash string, size int64, kind Kind) (*MediaFile, bool, error) {
	ts := now()
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO media_files (path, content_hash, size_bytes, kind, status, version, ingested_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			updated_at = excluded.updated_at
		WHERE media_files.status = 'discovered' AND media_files.content_hash != excluded.content_hash
	`, path, contentHash, size, string(kind), string(StatusDiscovered), ts, ts)
	if err != nil {
		return nil, false, wrapErr("register file", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		if _, err := q.q.ExecContext(ctx, `
			UPDATE media_files
			SET duplicate_of = (SELECT MIN(o.id) FROM media_files o
			                    WHERE o.content_hash = media_files.content_hash AND o.id < media_files.id)
			WHERE path = ?
		`, path); err != nil {
			return nil, false, wrapErr("link duplicate", err)
		}
	}

	f, err := q.GetFileByPath(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if f == nil {
		return nil, false, fmt.Errorf("file %s vanished after insert: %w", path, util.ErrNotFound)
	}
	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 && f.IngestedAt.Equal(f.UpdatedAt) {
		created = true
	}
	return f, created, nil
}

// GetFile retrieves a file by ID. Returns nil, nil when absent.
func (q *queries) GetFile(ctx context.Context, id int64) (*MediaFile, error) {
	f, err := scanMediaFile(q.q.QueryRowContext(ctx,
		`SELECT `+mediaFileColumns+` FROM media_files WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get file", err)
	}
	return f, nil
}

// GetFileByPath retrieves a file by path. Returns nil, nil when absent.
func (q *queries) GetFileByPath(ctx context.Context, path string) (*MediaFile, error) {
	f, err := scanMediaFile(q.q.QueryRowContext(ctx,
		`SELECT `+mediaFileColumns+` FROM media_files WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get file", err)
	}
	return f, nil
}

// ListFilesByStatus returns files in the given statuses ordered by ID.
func (q *queries) ListFilesByStatus(ctx context.Context, statuses ...Status) ([]*MediaFile, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT ` + mediaFileColumns + ` FROM media_files WHERE status IN (?` +
		repeatPlaceholders(len(statuses)-1) + `) ORDER BY id`
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("query files", err)
	}
	defer rows.Close()

	var files []*MediaFile
	for rows.Next() {
		f, err := scanMediaFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ListFilesByHash returns every file with the given content hash ordered
// by ID.
func (q *queries) ListFilesByHash(ctx context.Context, contentHash string) ([]*MediaFile, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+mediaFileColumns+` FROM media_files WHERE content_hash = ? ORDER BY id`, contentHash)
	if err != nil {
		return nil, wrapErr("query files by hash", err)
	}
	defer rows.Close()

	var files []*MediaFile
	for rows.Next() {
		f, err := scanMediaFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DuplicateGroup is a set of paths holding byte-identical content.
type DuplicateGroup struct {
	ContentHash string
	Paths       []string
}

// ListDuplicates groups files that share a content hash. The first path
// of each group is the earliest registered copy.
func (q *queries) ListDuplicates(ctx context.Context) ([]DuplicateGroup, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT content_hash, path FROM media_files
		WHERE content_hash IN (SELECT content_hash FROM media_files WHERE duplicate_of IS NOT NULL)
		ORDER BY content_hash, id
	`)
	if err != nil {
		return nil, wrapErr("list duplicates", err)
	}
	defer rows.Close()

	var groups []DuplicateGroup
	for rows.Next() {
		var hash, path string
		if err := rows.Scan(&hash, &path); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate: %w", err)
		}
		if len(groups) == 0 || groups[len(groups)-1].ContentHash != hash {
			groups = append(groups, DuplicateGroup{ContentHash: hash})
		}
		g := &groups[len(groups)-1]
		g.Paths = append(g.Paths, path)
	}
	return groups, rows.Err()
}

// CountByStatus returns the number of files per status.
func (q *queries) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM media_files GROUP BY status`)
	if err != nil {
		return nil, wrapErr("count files", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// Transition moves f to next with a compare-and-swap on (status, version).
// On success f reflects the new row. ErrConflict means another writer
// advanced the file first.
func (q *queries) Transition(ctx context.Context, f *MediaFile, next Status, errKind, errMsg string) error {
	if err := f.Status.CheckTransition(next); err != nil {
		return err
	}
	ts := now()
	res, err := q.q.ExecContext(ctx, `
		UPDATE media_files
		SET status = ?, version = version + 1, error_kind = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ? AND version = ?
	`, string(next), nullString(errKind), nullString(errMsg), ts, f.ID, string(f.Status), f.Version)
	if err != nil {
		return wrapErr("update file status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("update file status", err)
	}
	if n == 0 {
		current, err := q.GetFile(ctx, f.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("file %d: %w", f.ID, util.ErrNotFound)
		}
		return fmt.Errorf("%w: file %d is %s@%d, expected %s@%d",
			util.ErrConflict, f.ID, current.Status, current.Version, f.Status, f.Version)
	}

	f.Status = next
	f.Version++
	f.ErrorKind = errKind
	f.Error = errMsg
	f.UpdatedAt = ts
	return nil
}

func repeatPlaceholders(n int) string {
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		b = append(b, ", ?"...)
	}
	return string(b)
}
