package score

import (
	"context"
	"fmt"

	"github.com/franz/media-organizer/internal/features"
	"github.com/franz/media-organizer/internal/match"
	"github.com/franz/media-organizer/internal/store"
)

// Input is everything the scorer looks at for one file.
type Input struct {
	Vector   *features.Vector
	Match    *match.Result
	Metadata *store.Metadata // file metadata, may be nil
}

// Result is the scorer output. Candidate is nil when the file is
// unidentified.
type Result struct {
	Final        float64
	PreBoost     float64
	BoostApplied float64
	BoostReason  string
	Candidate    *match.Candidate
	ModelVersion int
	Signals      Signals
}

// Record converts r into a store row.
func (r *Result) Record(fileID, featuresID int64) (*store.ScoreRecord, error) {
	sig, err := r.Signals.Encode()
	if err != nil {
		return nil, err
	}
	rec := &store.ScoreRecord{
		MediaFileID:  fileID,
		ModelVersion: r.ModelVersion,
		FeaturesID:   featuresID,
		RawScore:     r.PreBoost,
		FinalScore:   r.Final,
		BoostApplied: r.BoostApplied,
		BoostReason:  r.BoostReason,
		SignalsJSON:  sig,
	}
	if r.Candidate != nil {
		rec.CandidateWorkID = r.Candidate.WorkID
	}
	return rec, nil
}

// RawScore is the classifier output for a vector and its signals.
func RawScore(m *Model, v *features.Vector, sig Signals) (float64, error) {
	if err := v.Check(m.SchemaVersion); err != nil {
		return 0, err
	}
	x := make([]float64, 0, len(v.Values)+SignalCount)
	x = append(x, v.Values...)
	x = append(x, sig.Values()...)
	return m.Predict(x)
}

// Scorer composes the active classifier with the boost rule current at
// the time of each call.
type Scorer struct {
	models ModelSource
	boost  func() BoostRule
}

// NewScorer returns a scorer reading models from src and the boost rule
// from boost.
func NewScorer(src ModelSource, boost func() BoostRule) *Scorer {
	return &Scorer{models: src, boost: boost}
}

// Score computes the confidence of one file. Without an active model it
// fails with ErrModelUnavailable.
func (s *Scorer) Score(ctx context.Context, in Input) (*Result, error) {
	active, err := s.models.Active(ctx)
	if err != nil {
		return nil, err
	}

	sig := SignalsFrom(in.Match)
	raw, err := RawScore(active.Model, in.Vector, sig)
	if err != nil {
		return nil, fmt.Errorf("model %d: %w", active.Version, err)
	}

	res := &Result{
		Final:        raw,
		PreBoost:     raw,
		Candidate:    in.Match.Best(),
		ModelVersion: active.Version,
		Signals:      sig,
	}

	rule := s.boost()
	indication, reason := bestIndication(rule, res.Candidate, in.Metadata)
	res.Final, res.BoostApplied = rule.Apply(raw, indication)
	if res.BoostApplied > 0 {
		res.BoostReason = reason
	}
	return res, nil
}

func bestIndication(rule BoostRule, c *match.Candidate, md *store.Metadata) (float64, string) {
	var best float64
	var reason string
	if c != nil {
		best, reason = rule.Indication(BoostEvidence{
			Genre: c.Genre, Country: c.Country, Language: c.Language, Title: c.Title, Album: c.Album,
		})
	}
	if md != nil {
		if v, why := rule.Indication(BoostEvidence{
			Genre: md.Genre, Country: md.Country, Language: md.Language, Title: md.Title, Album: md.Album,
		}); v > best {
			best, reason = v, why
		}
	}
	return best, reason
}
