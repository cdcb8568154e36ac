// Package route turns a confidence score into a disposition: accept,
// reject, or a review queue entry.
package route

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/franz/media-organizer/internal/config"
	"github.com/franz/media-organizer/internal/match"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

// Review reasons stored on the queue entry.
const (
	ReasonBetweenThresholds = "score_between_thresholds"
	ReasonNoCandidates      = "no_candidates"
)

// Decide applies the threshold policy to a score. Thresholds must already
// be valid.
func Decide(score float64, t config.RouterConfig) store.Status {
	switch {
	case score >= t.AcceptThreshold:
		return store.StatusAutoAccepted
	case score <= t.RejectThreshold:
		return store.StatusAutoRejected
	default:
		return store.StatusPendingReview
	}
}

// Provisional is the identification a reviewer is asked to confirm.
type Provisional struct {
	Candidate    *match.Candidate `json:"candidate,omitempty"`
	Score        float64          `json:"score"`
	PreBoost     float64          `json:"pre_boost"`
	BoostReason  string           `json:"boost_reason,omitempty"`
	ModelVersion int              `json:"model_version"`
}

// Encode serializes p for the review queue.
func (p *Provisional) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode provisional identification: %w", err)
	}
	return string(b), nil
}

// DecodeProvisional parses a stored provisional identification.
func DecodeProvisional(s string) (*Provisional, error) {
	p := &Provisional{}
	if s == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(s), p); err != nil {
		return nil, fmt.Errorf("failed to parse provisional identification: %w", err)
	}
	return p, nil
}

// Disposition is where a file ended up after routing.
type Disposition struct {
	FileID    int64
	From      store.Status
	Status    store.Status
	Changed   bool
	Score     float64
	Reason    string
	ReviewID  int64
	Candidate *match.Candidate
}

// Router decides scored files. Thresholds come from thresholds on every
// call so a config reload applies to the next decision.
type Router struct {
	store      *store.Store
	thresholds func() config.RouterConfig
}

// New returns a router over s.
func New(s *store.Store, thresholds func() config.RouterConfig) *Router {
	return &Router{store: s, thresholds: thresholds}
}

// FromProvider reads thresholds from the provider's current snapshot.
func FromProvider(s *store.Store, p *config.Provider) *Router {
	return New(s, func() config.RouterConfig { return p.Current().Router })
}

// Route dispositions one scored file. Files in any other status are left
// alone and their current status is reported.
func (r *Router) Route(ctx context.Context, fileID int64) (*Disposition, error) {
	var d *Disposition
	err := r.store.InTx(ctx, func(tx *store.Tx) error {
		f, err := tx.GetFile(ctx, fileID)
		if err != nil {
			return err
		}
		if f == nil {
			return fmt.Errorf("file %d: %w", fileID, util.ErrNotFound)
		}
		d = &Disposition{FileID: f.ID, From: f.Status, Status: f.Status}
		if f.Status != store.StatusScored {
			return nil
		}

		t := r.thresholds()
		if err := t.Validate(); err != nil {
			return err
		}

		sc, err := tx.GetScore(ctx, fileID)
		if err != nil {
			return err
		}
		if sc == nil {
			return fmt.Errorf("score for file %d: %w", fileID, util.ErrNotFound)
		}
		cand, err := scoredCandidate(ctx, tx, sc)
		if err != nil {
			return err
		}

		next := Decide(sc.FinalScore, t)
		if err := tx.Transition(ctx, f, next, "", ""); err != nil {
			return err
		}
		d.Status = next
		d.Changed = true
		d.Score = sc.FinalScore
		d.Candidate = cand

		if next != store.StatusPendingReview {
			return nil
		}
		d.Reason = ReasonBetweenThresholds
		if cand == nil {
			d.Reason = ReasonNoCandidates
		}
		prov := &Provisional{
			Candidate:    cand,
			Score:        sc.FinalScore,
			PreBoost:     sc.RawScore,
			BoostReason:  sc.BoostReason,
			ModelVersion: sc.ModelVersion,
		}
		provJSON, err := prov.Encode()
		if err != nil {
			return err
		}
		entry := &store.ReviewEntry{
			MediaFileID:     f.ID,
			ProvisionalJSON: provJSON,
			Confidence:      sc.FinalScore,
			PreBoost:        sc.RawScore,
			Reason:          d.Reason,
		}
		if err := tx.EnqueueReview(ctx, entry); err != nil {
			return err
		}
		d.ReviewID = entry.ID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("route file %d: %w", fileID, err)
	}
	return d, nil
}

// scoredCandidate finds the candidate the score was computed for.
func scoredCandidate(ctx context.Context, tx *store.Tx, sc *store.ScoreRecord) (*match.Candidate, error) {
	if sc.CandidateWorkID == 0 {
		return nil, nil
	}
	rec, err := tx.GetLatestMatch(ctx, sc.MediaFileID)
	if err != nil || rec == nil {
		return nil, err
	}
	res, err := match.DecodeResult(rec.Outcome, rec.CandidatesJSON)
	if err != nil {
		return nil, err
	}
	for i := range res.Candidates {
		if res.Candidates[i].WorkID == sc.CandidateWorkID {
			return &res.Candidates[i], nil
		}
	}
	return nil, nil
}
