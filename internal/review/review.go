// Package review resolves files the router could not decide and turns
// each decision into a training example.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/franz/media-organizer/internal/match"
	"github.com/franz/media-organizer/internal/report"
	"github.com/franz/media-organizer/internal/route"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

// ErrInvalidDecision indicates a decision that is missing required fields.
var ErrInvalidDecision = errors.New("invalid review decision")

// Action is what the reviewer concluded.
type Action string

const (
	ActionConfirm        Action = store.FeedbackConfirm
	ActionCorrect        Action = store.FeedbackCorrect
	ActionUnidentifiable Action = store.FeedbackUnidentifiable
)

// ParseAction validates a user-supplied action name.
func ParseAction(raw string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(raw))); a {
	case ActionConfirm, ActionCorrect, ActionUnidentifiable:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, raw)
}

// Decision is a reviewer's verdict on one pending file.
type Decision struct {
	FileID   int64
	Action   Action
	WorkID   int64 // correct: catalog work the file really is
	Title    string
	Artist   string
	Album    string
	Year     int
	Reviewer string
	Notes    string
	Weight   float64 // training weight of the feedback row, 0 means 1
}

func (d Decision) validate() error {
	if d.Weight < 0 {
		return fmt.Errorf("%w: negative training weight %v", ErrInvalidDecision, d.Weight)
	}
	switch d.Action {
	case ActionConfirm, ActionUnidentifiable:
		return nil
	case ActionCorrect:
		if d.WorkID == 0 && strings.TrimSpace(d.Title) == "" {
			return fmt.Errorf("%w: a correction needs a work id or a title", ErrInvalidDecision)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, d.Action)
}

// Correction is the identity a reviewer supplied, stored with the feedback.
type Correction struct {
	WorkID int64  `json:"work_id,omitempty"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Year   int    `json:"year,omitempty"`
}

// Item is a queue entry with the context a reviewer needs.
type Item struct {
	Entry       *store.ReviewEntry
	File        *store.MediaFile
	Provisional *route.Provisional
	Metadata    *store.Metadata
	Candidates  []match.Candidate
}

// Outcome reports what Submit wrote.
type Outcome struct {
	FileID       int64
	FeedbackID   int64
	FeedbackType string
	Metadata     *store.Metadata // nil when no identity was recorded
}

// Service is the review queue.
type Service struct {
	store *store.Store
}

// New returns a review service over s.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

// ListPending returns open entries, oldest first. limit <= 0 means all.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*Item, error) {
	entries, err := s.store.ListOpenReviews(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]*Item, 0, len(entries))
	for _, e := range entries {
		f, err := s.store.GetFile(ctx, e.MediaFileID)
		if err != nil {
			return nil, err
		}
		prov, err := route.DecodeProvisional(e.ProvisionalJSON)
		if err != nil {
			return nil, err
		}
		items = append(items, &Item{Entry: e, File: f, Provisional: prov})
	}
	return items, nil
}

// Show returns the open entry of a file together with its metadata and
// the full candidate list.
func (s *Service) Show(ctx context.Context, fileID int64) (*Item, error) {
	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("file %d: %w", fileID, util.ErrNotFound)
	}
	entry, err := s.store.GetOpenReview(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("file %d is %s: %w", fileID, f.Status, util.ErrNotPending)
	}
	prov, err := route.DecodeProvisional(entry.ProvisionalJSON)
	if err != nil {
		return nil, err
	}
	md, err := s.store.GetMetadata(ctx, fileID)
	if err != nil {
		return nil, err
	}
	item := &Item{Entry: entry, File: f, Provisional: prov, Metadata: md}

	rec, err := s.store.GetLatestMatch(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		res, err := match.DecodeResult(rec.Outcome, rec.CandidatesJSON)
		if err != nil {
			return nil, err
		}
		item.Candidates = res.Candidates
	}
	return item, nil
}

// Submit resolves a pending file. The entry, the status change, the
// feedback row, the metadata and the log row commit together.
func (s *Service) Submit(ctx context.Context, d Decision) (*Outcome, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	var out *Outcome
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		f, err := tx.GetFile(ctx, d.FileID)
		if err != nil {
			return err
		}
		if f == nil {
			return fmt.Errorf("file %d: %w", d.FileID, util.ErrNotFound)
		}
		if f.Status != store.StatusPendingReview {
			return fmt.Errorf("file %d is %s: %w", f.ID, f.Status, util.ErrNotPending)
		}
		entry, err := tx.GetOpenReview(ctx, f.ID)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("file %d has no open review entry: %w", f.ID, util.ErrNotPending)
		}
		prov, err := route.DecodeProvisional(entry.ProvisionalJSON)
		if err != nil {
			return err
		}
		sc, err := tx.GetScore(ctx, f.ID)
		if err != nil {
			return err
		}
		if sc == nil {
			return fmt.Errorf("score for file %d: %w", f.ID, util.ErrNotFound)
		}

		feedbackType, md, corrected, err := resolveIdentity(ctx, tx, f.ID, d, prov)
		if err != nil {
			return err
		}

		if err := tx.ResolveReview(ctx, entry.ID, feedbackType, d.Reviewer, d.Notes); err != nil {
			return err
		}
		from := f.Status
		if err := tx.Transition(ctx, f, store.StatusResolved, "", ""); err != nil {
			return err
		}

		fb := &store.Feedback{
			MediaFileID:     f.ID,
			FeaturesID:      sc.FeaturesID,
			ProvisionalJSON: entry.ProvisionalJSON,
			CorrectedJSON:   corrected,
			FeedbackType:    feedbackType,
			PredictedScore:  entry.Confidence,
			ModelVersion:    sc.ModelVersion,
			SignalsJSON:     sc.SignalsJSON,
			TrainingWeight:  d.Weight,
		}
		if err := tx.AppendFeedback(ctx, fb); err != nil {
			return err
		}
		if md != nil {
			if _, err := tx.UpsertMetadata(ctx, md); err != nil {
				return err
			}
		}

		ev := report.Transition(report.StageReview, f.ID, f.Path, string(from), string(f.Status))
		ev.Message = "review: " + feedbackType
		ev.Extra = map[string]string{"feedback_id": fmt.Sprintf("%d", fb.ID)}
		if d.Reviewer != "" {
			ev.Extra["reviewer"] = d.Reviewer
		}
		if err := report.NewStoreRecorder(tx, "").Record(ctx, ev); err != nil {
			return err
		}

		out = &Outcome{FileID: f.ID, FeedbackID: fb.ID, FeedbackType: feedbackType, Metadata: md}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("submit review for file %d: %w", d.FileID, err)
	}
	return out, nil
}

// resolveIdentity works out the feedback type, the metadata to record and
// the correction payload. A correction naming the provisional work is a
// confirmation.
func resolveIdentity(ctx context.Context, tx *store.Tx, fileID int64, d Decision, prov *route.Provisional) (string, *store.Metadata, string, error) {
	switch d.Action {
	case ActionUnidentifiable:
		return store.FeedbackUnidentifiable, nil, "", nil

	case ActionConfirm:
		if prov.Candidate == nil {
			return "", nil, "", fmt.Errorf("%w: nothing to confirm for file %d", ErrInvalidDecision, fileID)
		}
		return store.FeedbackConfirm, prov.Candidate.Metadata(fileID, store.SourceReview, 1.0), "", nil
	}

	c := Correction{WorkID: d.WorkID, Title: d.Title, Artist: d.Artist, Album: d.Album, Year: d.Year}
	md := &store.Metadata{MediaFileID: fileID, Source: store.SourceReview, Quality: 1.0}
	if d.WorkID != 0 {
		w, err := tx.GetWork(ctx, d.WorkID)
		if err != nil {
			return "", nil, "", err
		}
		if w == nil {
			return "", nil, "", fmt.Errorf("work %d: %w", d.WorkID, util.ErrNotFound)
		}
		md.Title, md.Artist, md.Album, md.Year = w.Title, w.Artist, w.Album, w.Year
		md.Genre, md.Country, md.Language, md.MusicBrainzID = w.Genre, w.Country, w.Language, w.MusicBrainzID
	}
	if d.Title != "" {
		md.Title = d.Title
	}
	if d.Artist != "" {
		md.Artist = d.Artist
	}
	if d.Album != "" {
		md.Album = d.Album
	}
	if d.Year != 0 {
		md.Year = d.Year
	}

	b, err := json.Marshal(c)
	if err != nil {
		return "", nil, "", fmt.Errorf("failed to encode correction: %w", err)
	}
	feedbackType := store.FeedbackCorrect
	if d.WorkID != 0 && prov.Candidate != nil && prov.Candidate.WorkID == d.WorkID {
		feedbackType = store.FeedbackConfirm
	}
	return feedbackType, md, string(b), nil
}
