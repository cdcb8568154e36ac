package store

import (
	"context"
	"fmt"
	"time"
)

// Feedback types recorded when a reviewer resolves an entry.
const (
	FeedbackConfirm        = "confirm"
	FeedbackCorrect        = "correct"
	FeedbackUnidentifiable = "unidentifiable"
)

// Feedback is an append-only training record produced by review.
type Feedback struct {
	ID              int64
	MediaFileID     int64
	FeaturesID      int64
	ProvisionalJSON string
	CorrectedJSON   string
	FeedbackType    string
	PredictedScore  float64
	ModelVersion    int
	SignalsJSON     string
	TrainingWeight  float64 // 0 is stored as 1
	UsedForTraining bool
	CreatedAt       time.Time
}

// Training splits recorded per model version.
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
)

// TrainingUse records that a feedback row took part in fitting a model.
type TrainingUse struct {
	FeedbackID int64
	Split      string
	Weight     float64
}

// AppendFeedback inserts a feedback row. Apart from the used_for_training
// flag, rows are never updated.
func (q *queries) AppendFeedback(ctx context.Context, fb *Feedback) error {
	ts := now()
	if fb.TrainingWeight <= 0 {
		fb.TrainingWeight = 1
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO ml_feedback (media_file_id, features_id, provisional_json, corrected_json,
		                         feedback_type, predicted_score, model_version, signals_json,
		                         training_weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fb.MediaFileID, fb.FeaturesID, fb.ProvisionalJSON, nullString(fb.CorrectedJSON),
		fb.FeedbackType, fb.PredictedScore, fb.ModelVersion, fb.SignalsJSON, fb.TrainingWeight, ts)
	if err != nil {
		return wrapErr("append feedback", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		fb.ID = id
	}
	fb.CreatedAt = ts
	return nil
}

// ListFeedback returns every feedback row in insertion order.
func (q *queries) ListFeedback(ctx context.Context) ([]*Feedback, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, media_file_id, features_id, provisional_json, COALESCE(corrected_json, ''),
		       feedback_type, predicted_score, model_version, signals_json,
		       training_weight, used_for_training, created_at
		FROM ml_feedback ORDER BY id
	`)
	if err != nil {
		return nil, wrapErr("list feedback", err)
	}
	defer rows.Close()

	var out []*Feedback
	for rows.Next() {
		fb := &Feedback{}
		if err := rows.Scan(&fb.ID, &fb.MediaFileID, &fb.FeaturesID, &fb.ProvisionalJSON, &fb.CorrectedJSON,
			&fb.FeedbackType, &fb.PredictedScore, &fb.ModelVersion, &fb.SignalsJSON,
			&fb.TrainingWeight, &fb.UsedForTraining, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// CountFeedback returns the number of feedback rows, optionally for one file.
func (q *queries) CountFeedback(ctx context.Context, fileID int64) (int, error) {
	query := `SELECT COUNT(*) FROM ml_feedback`
	var args []any
	if fileID != 0 {
		query += ` WHERE media_file_id = ?`
		args = append(args, fileID)
	}
	var n int
	if err := q.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, wrapErr("count feedback", err)
	}
	return n, nil
}

// CountUnusedFeedback returns the feedback rows under schemaVersion that no
// model has been trained on yet.
func (q *queries) CountUnusedFeedback(ctx context.Context, schemaVersion int) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ml_feedback fb
		JOIN ml_features f ON f.id = fb.features_id
		WHERE fb.used_for_training = 0 AND f.schema_version = ?
	`, schemaVersion).Scan(&n)
	if err != nil {
		return 0, wrapErr("count unused feedback", err)
	}
	return n, nil
}

// RecordTrainingSet links version to the feedback rows it was fitted and
// validated on and marks those rows used.
func (q *queries) RecordTrainingSet(ctx context.Context, version int, uses []TrainingUse) error {
	for _, u := range uses {
		if _, err := q.q.ExecContext(ctx, `
			INSERT INTO ml_model_feedback (model_version, feedback_id, split, weight)
			VALUES (?, ?, ?, ?)
		`, version, u.FeedbackID, u.Split, u.Weight); err != nil {
			return wrapErr("record training set", err)
		}
		if _, err := q.q.ExecContext(ctx,
			`UPDATE ml_feedback SET used_for_training = 1 WHERE id = ?`, u.FeedbackID); err != nil {
			return wrapErr("mark feedback used", err)
		}
	}
	return nil
}

// ListTrainingSet returns the feedback rows recorded for version.
func (q *queries) ListTrainingSet(ctx context.Context, version int) ([]TrainingUse, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT feedback_id, split, weight FROM ml_model_feedback
		WHERE model_version = ? ORDER BY feedback_id
	`, version)
	if err != nil {
		return nil, wrapErr("list training set", err)
	}
	defer rows.Close()

	var out []TrainingUse
	for rows.Next() {
		var u TrainingUse
		if err := rows.Scan(&u.FeedbackID, &u.Split, &u.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan training use: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
