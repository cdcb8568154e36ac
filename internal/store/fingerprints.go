package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Fingerprint is an immutable acoustic or visual signature of a file.
type Fingerprint struct {
	ID               int64
	MediaFileID      int64
	Algorithm        string
	AlgorithmVersion int
	Blob             []byte
	BlobSHA256       string
	DurationMs       int64
	FrameCount       int
	FeaturesJSON     string
	CreatedAt        time.Time
}

// InsertFingerprint stores fp unless one already exists for the same file
// and algorithm version, in which case the existing row is returned
// untouched.
func (q *queries) InsertFingerprint(ctx context.Context, fp *Fingerprint) (*Fingerprint, error) {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO fingerprints (media_file_id, algorithm, algorithm_version, blob, blob_sha256,
		                          duration_ms, frame_count, features_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(media_file_id, algorithm, algorithm_version) DO NOTHING
	`, fp.MediaFileID, fp.Algorithm, fp.AlgorithmVersion, fp.Blob, fp.BlobSHA256,
		fp.DurationMs, fp.FrameCount, fp.FeaturesJSON, now())
	if err != nil {
		return nil, wrapErr("insert fingerprint", err)
	}

	stored, err := q.GetFingerprint(ctx, fp.MediaFileID, fp.Algorithm, fp.AlgorithmVersion)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("fingerprint for file %d missing after insert", fp.MediaFileID)
	}
	return stored, nil
}

// GetFingerprint returns the fingerprint for one algorithm version, or nil.
func (q *queries) GetFingerprint(ctx context.Context, fileID int64, algorithm string, version int) (*Fingerprint, error) {
	fp := &Fingerprint{}
	err := q.q.QueryRowContext(ctx, `
		SELECT id, media_file_id, algorithm, algorithm_version, blob, blob_sha256,
		       duration_ms, frame_count, features_json, created_at
		FROM fingerprints
		WHERE media_file_id = ? AND algorithm = ? AND algorithm_version = ?
	`, fileID, algorithm, version).Scan(
		&fp.ID, &fp.MediaFileID, &fp.Algorithm, &fp.AlgorithmVersion, &fp.Blob, &fp.BlobSHA256,
		&fp.DurationMs, &fp.FrameCount, &fp.FeaturesJSON, &fp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get fingerprint", err)
	}
	return fp, nil
}

// CountFingerprints returns the number of fingerprints stored for a file.
func (q *queries) CountFingerprints(ctx context.Context, fileID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM fingerprints WHERE media_file_id = ?`, fileID).Scan(&n)
	if err != nil {
		return 0, wrapErr("count fingerprints", err)
	}
	return n, nil
}
