package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// FeatureRow is a persisted MLFeatures snapshot.
type FeatureRow struct {
	ID            int64
	MediaFileID   int64
	SchemaVersion int
	VectorJSON    string
	CreatedAt     time.Time
}

// InsertFeatures stores a vector for (file, schema version). An existing
// snapshot is kept and returned so feedback keeps pointing at it.
func (q *queries) InsertFeatures(ctx context.Context, fileID int64, schemaVersion int, vectorJSON string) (*FeatureRow, error) {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO ml_features (media_file_id, schema_version, vector_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(media_file_id, schema_version) DO NOTHING
	`, fileID, schemaVersion, vectorJSON, now())
	if err != nil {
		return nil, wrapErr("insert features", err)
	}
	return q.GetFeatures(ctx, fileID, schemaVersion)
}

// GetFeatures returns the snapshot for (file, schema version), or nil.
func (q *queries) GetFeatures(ctx context.Context, fileID int64, schemaVersion int) (*FeatureRow, error) {
	return q.scanFeatures(q.q.QueryRowContext(ctx, `
		SELECT id, media_file_id, schema_version, vector_json, created_at
		FROM ml_features WHERE media_file_id = ? AND schema_version = ?
	`, fileID, schemaVersion))
}

// GetFeaturesByID returns a snapshot by primary key, or nil.
func (q *queries) GetFeaturesByID(ctx context.Context, id int64) (*FeatureRow, error) {
	return q.scanFeatures(q.q.QueryRowContext(ctx, `
		SELECT id, media_file_id, schema_version, vector_json, created_at
		FROM ml_features WHERE id = ?
	`, id))
}

func (q *queries) scanFeatures(row *sql.Row) (*FeatureRow, error) {
	r := &FeatureRow{}
	err := row.Scan(&r.ID, &r.MediaFileID, &r.SchemaVersion, &r.VectorJSON, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get features", err)
	}
	return r, nil
}
