package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Work is a known recording or video in the reference catalog.
type Work struct {
	ID            int64
	Title         string
	Artist        string
	Album         string
	Year          int
	Genre         string
	Country       string
	Language      string
	Popularity    float64
	MusicBrainzID string
}

// WorkFingerprint is a reference fingerprint of a catalog work.
type WorkFingerprint struct {
	ID               int64
	WorkID           int64
	Algorithm        string
	AlgorithmVersion int
	Blob             []byte
	BlobSHA256       string
	DurationMs       int64
}

const workColumns = `id, title, COALESCE(artist, ''), COALESCE(album, ''), COALESCE(year, 0),
	COALESCE(genre, ''), COALESCE(country, ''), COALESCE(language, ''), popularity,
	COALESCE(musicbrainz_id, '')`

func scanWork(row interface{ Scan(...any) error }) (*Work, error) {
	w := &Work{}
	err := row.Scan(&w.ID, &w.Title, &w.Artist, &w.Album, &w.Year, &w.Genre, &w.Country,
		&w.Language, &w.Popularity, &w.MusicBrainzID)
	return w, err
}

// InsertWork adds a catalog work and sets w.ID.
func (q *queries) InsertWork(ctx context.Context, w *Work) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO works (title, artist, album, year, genre, country, language, popularity, musicbrainz_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.Title, nullString(w.Artist), nullString(w.Album), w.Year, nullString(w.Genre),
		nullString(w.Country), nullString(w.Language), w.Popularity, nullString(w.MusicBrainzID))
	if err != nil {
		return wrapErr("insert work", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapErr("insert work", err)
	}
	w.ID = id
	return nil
}

// GetWork returns a catalog work, or nil.
func (q *queries) GetWork(ctx context.Context, id int64) (*Work, error) {
	w, err := scanWork(q.q.QueryRowContext(ctx, `SELECT `+workColumns+` FROM works WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get work", err)
	}
	return w, nil
}

// ListWorks returns the whole catalog ordered by ID.
func (q *queries) ListWorks(ctx context.Context) ([]*Work, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+workColumns+` FROM works ORDER BY id`)
	if err != nil {
		return nil, wrapErr("list works", err)
	}
	defer rows.Close()

	var out []*Work
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// InsertWorkFingerprint attaches a reference fingerprint to a work.
func (q *queries) InsertWorkFingerprint(ctx context.Context, wf *WorkFingerprint) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO work_fingerprints (work_id, algorithm, algorithm_version, blob, blob_sha256, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, wf.WorkID, wf.Algorithm, wf.AlgorithmVersion, wf.Blob, wf.BlobSHA256, wf.DurationMs)
	if err != nil {
		return wrapErr("insert work fingerprint", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		wf.ID = id
	}
	return nil
}

// ListWorkFingerprints returns reference fingerprints for one algorithm
// version ordered by ID.
func (q *queries) ListWorkFingerprints(ctx context.Context, algorithm string, version int) ([]*WorkFingerprint, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, work_id, algorithm, algorithm_version, blob, blob_sha256, duration_ms
		FROM work_fingerprints WHERE algorithm = ? AND algorithm_version = ?
		ORDER BY id
	`, algorithm, version)
	if err != nil {
		return nil, wrapErr("list work fingerprints", err)
	}
	defer rows.Close()

	var out []*WorkFingerprint
	for rows.Next() {
		wf := &WorkFingerprint{}
		if err := rows.Scan(&wf.ID, &wf.WorkID, &wf.Algorithm, &wf.AlgorithmVersion, &wf.Blob,
			&wf.BlobSHA256, &wf.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan work fingerprint: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}
