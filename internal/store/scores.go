package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// MatchRecord is the persisted outcome of candidate matching.
type MatchRecord struct {
	MediaFileID    int64
	FingerprintID  int64
	Outcome        string
	CandidatesJSON string
	CreatedAt      time.Time
}

// ScoreRecord is the persisted confidence score of a file.
type ScoreRecord struct {
	MediaFileID     int64
	ModelVersion    int
	FeaturesID      int64
	RawScore        float64
	FinalScore      float64
	BoostApplied    float64
	BoostReason     string
	CandidateWorkID int64 // 0 when unidentified
	SignalsJSON     string
	CreatedAt       time.Time
}

// SaveMatch records the match outcome for a fingerprint. Re-running the
// matcher against the same fingerprint replaces the earlier outcome.
func (q *queries) SaveMatch(ctx context.Context, m *MatchRecord) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO match_results (media_file_id, fingerprint_id, outcome, candidates_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(media_file_id, fingerprint_id) DO UPDATE SET
			outcome = excluded.outcome,
			candidates_json = excluded.candidates_json,
			created_at = excluded.created_at
	`, m.MediaFileID, m.FingerprintID, m.Outcome, m.CandidatesJSON, now())
	if err != nil {
		return wrapErr("save match", err)
	}
	return nil
}

// GetLatestMatch returns the newest match outcome for a file, or nil.
func (q *queries) GetLatestMatch(ctx context.Context, fileID int64) (*MatchRecord, error) {
	m := &MatchRecord{}
	err := q.q.QueryRowContext(ctx, `
		SELECT media_file_id, fingerprint_id, outcome, candidates_json, created_at
		FROM match_results WHERE media_file_id = ?
		ORDER BY created_at DESC, fingerprint_id DESC LIMIT 1
	`, fileID).Scan(&m.MediaFileID, &m.FingerprintID, &m.Outcome, &m.CandidatesJSON, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get match", err)
	}
	return m, nil
}

// SaveScore records the confidence score of a file.
func (q *queries) SaveScore(ctx context.Context, s *ScoreRecord) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO scores (media_file_id, model_version, features_id, raw_score, final_score,
		                    boost_applied, boost_reason, candidate_work_id, signals_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(media_file_id) DO UPDATE SET
			model_version = excluded.model_version,
			features_id = excluded.features_id,
			raw_score = excluded.raw_score,
			final_score = excluded.final_score,
			boost_applied = excluded.boost_applied,
			boost_reason = excluded.boost_reason,
			candidate_work_id = excluded.candidate_work_id,
			signals_json = excluded.signals_json,
			created_at = excluded.created_at
	`, s.MediaFileID, s.ModelVersion, s.FeaturesID, s.RawScore, s.FinalScore, s.BoostApplied,
		nullString(s.BoostReason), nullInt64(s.CandidateWorkID), s.SignalsJSON, now())
	if err != nil {
		return wrapErr("save score", err)
	}
	return nil
}

// GetScore returns the score for a file, or nil.
func (q *queries) GetScore(ctx context.Context, fileID int64) (*ScoreRecord, error) {
	s := &ScoreRecord{}
	err := q.q.QueryRowContext(ctx, `
		SELECT media_file_id, model_version, features_id, raw_score, final_score, boost_applied,
		       COALESCE(boost_reason, ''), COALESCE(candidate_work_id, 0), signals_json, created_at
		FROM scores WHERE media_file_id = ?
	`, fileID).Scan(&s.MediaFileID, &s.ModelVersion, &s.FeaturesID, &s.RawScore, &s.FinalScore,
		&s.BoostApplied, &s.BoostReason, &s.CandidateWorkID, &s.SignalsJSON, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get score", err)
	}
	return s, nil
}
