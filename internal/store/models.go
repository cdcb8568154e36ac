package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/franz/media-organizer/internal/util"
)

// ModelRecord is one immutable version of the scoring model.
type ModelRecord struct {
	Version            int
	ParamsJSON         string
	TrainingSize       int
	ValidationSize     int
	ValidationAccuracy float64
	ValidationLogLoss  float64
	HyperparamsJSON    string
	Active             bool
	CreatedAt          time.Time
}

const modelColumns = `version, params_json, training_size, validation_size, validation_accuracy,
	validation_log_loss, hyperparams_json, active, created_at`

func scanModel(row interface{ Scan(...any) error }) (*ModelRecord, error) {
	m := &ModelRecord{}
	err := row.Scan(&m.Version, &m.ParamsJSON, &m.TrainingSize, &m.ValidationSize,
		&m.ValidationAccuracy, &m.ValidationLogLoss, &m.HyperparamsJSON, &m.Active, &m.CreatedAt)
	return m, err
}

// InsertModel stores a new model version, numbered one past the newest.
// The new version starts inactive.
func (q *queries) InsertModel(ctx context.Context, m *ModelRecord) (int, error) {
	var next int
	if err := q.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM ml_models`).Scan(&next); err != nil {
		return 0, wrapErr("allocate model version", err)
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO ml_models (version, params_json, training_size, validation_size,
		                       validation_accuracy, validation_log_loss, hyperparams_json, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, next, m.ParamsJSON, m.TrainingSize, m.ValidationSize, m.ValidationAccuracy,
		m.ValidationLogLoss, m.HyperparamsJSON, now())
	if err != nil {
		return 0, wrapErr("insert model", err)
	}
	m.Version = next
	return next, nil
}

// ActivateModel flips the active pointer to version. Run inside a
// transaction so readers never observe zero or two active versions.
func (q *queries) ActivateModel(ctx context.Context, version int) error {
	var exists int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM ml_models WHERE version = ?`, version).Scan(&exists); err != nil {
		return wrapErr("find model", err)
	}
	if exists == 0 {
		return fmt.Errorf("model version %d: %w", version, util.ErrNotFound)
	}
	if _, err := q.q.ExecContext(ctx, `UPDATE ml_models SET active = 0 WHERE active = 1`); err != nil {
		return wrapErr("deactivate model", err)
	}
	if _, err := q.q.ExecContext(ctx, `UPDATE ml_models SET active = 1 WHERE version = ?`, version); err != nil {
		return wrapErr("activate model", err)
	}
	return nil
}

// GetActiveModel returns the active model, or nil when none is active.
func (q *queries) GetActiveModel(ctx context.Context) (*ModelRecord, error) {
	m, err := scanModel(q.q.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM ml_models WHERE active = 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get active model", err)
	}
	return m, nil
}

// GetModel returns one model version, or nil.
func (q *queries) GetModel(ctx context.Context, version int) (*ModelRecord, error) {
	m, err := scanModel(q.q.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM ml_models WHERE version = ?`, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get model", err)
	}
	return m, nil
}

// ListModels returns every version, newest first.
func (q *queries) ListModels(ctx context.Context) ([]*ModelRecord, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+modelColumns+` FROM ml_models ORDER BY version DESC`)
	if err != nil {
		return nil, wrapErr("list models", err)
	}
	defer rows.Close()

	var models []*ModelRecord
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}
