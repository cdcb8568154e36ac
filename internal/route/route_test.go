package route

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/franz/media-organizer/internal/config"
	"github.com/franz/media-organizer/internal/match"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

var defaultThresholds = config.RouterConfig{AcceptThreshold: 0.85, RejectThreshold: 0.30}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "route.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// scoredFile walks a new file to `scored` with the given final score. A
// nil candidate leaves the file unidentified.
func scoredFile(t *testing.T, s *store.Store, path string, final float64, cand *match.Candidate) *store.MediaFile {
	t.Helper()
	ctx := context.Background()

	f, _, err := s.RegisterFile(ctx, path, "hash-"+path, 1024, store.KindAudio)
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	fp, err := s.InsertFingerprint(ctx, &store.Fingerprint{
		MediaFileID: f.ID, Algorithm: "hk-audio", AlgorithmVersion: 1,
		Blob: []byte{1, 2, 3, 4}, BlobSHA256: "sha-" + path, FeaturesJSON: "{}",
	})
	if err != nil {
		t.Fatalf("InsertFingerprint: %v", err)
	}

	res := &match.Result{Outcome: match.OutcomeNoCandidates}
	if cand != nil {
		res = &match.Result{Outcome: match.OutcomeMatched, Candidates: []match.Candidate{*cand}}
	}
	candJSON, err := res.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := s.SaveMatch(ctx, &store.MatchRecord{
		MediaFileID: f.ID, FingerprintID: fp.ID, Outcome: string(res.Outcome), CandidatesJSON: candJSON,
	}); err != nil {
		t.Fatalf("SaveMatch: %v", err)
	}

	rec := &store.ScoreRecord{
		MediaFileID: f.ID, ModelVersion: 1, FeaturesID: 1,
		RawScore: final, FinalScore: final, SignalsJSON: "{}",
	}
	if cand != nil {
		rec.CandidateWorkID = cand.WorkID
	}
	if err := s.SaveScore(ctx, rec); err != nil {
		t.Fatalf("SaveScore: %v", err)
	}

	for _, next := range []store.Status{store.StatusFingerprinted, store.StatusMatched, store.StatusScored} {
		if err := s.Transition(ctx, f, next, "", ""); err != nil {
			t.Fatalf("Transition to %s: %v", next, err)
		}
	}
	return f
}

func TestDecide(t *testing.T) {
	tests := []struct {
		score float64
		want  store.Status
	}{
		{0.0, store.StatusAutoRejected},
		{0.30, store.StatusAutoRejected},
		{0.31, store.StatusPendingReview},
		{0.80, store.StatusPendingReview},
		{0.85, store.StatusAutoAccepted},
		{0.90, store.StatusAutoAccepted},
		{1.0, store.StatusAutoAccepted},
	}
	for _, tt := range tests {
		if got := Decide(tt.score, defaultThresholds); got != tt.want {
			t.Errorf("Decide(%.2f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestDecideIsMonotone(t *testing.T) {
	rank := map[store.Status]int{
		store.StatusAutoRejected:  0,
		store.StatusPendingReview: 1,
		store.StatusAutoAccepted:  2,
	}
	prev := -1
	for i := 0; i <= 100; i++ {
		got := rank[Decide(float64(i)/100, defaultThresholds)]
		if got < prev {
			t.Fatalf("disposition went down at score %.2f", float64(i)/100)
		}
		prev = got
	}
}

func TestRouteBetweenThresholdsEnqueuesReview(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	cand := &match.Candidate{WorkID: 7, Title: "Volare", Artist: "Domenico Modugno", Similarity: 0.93}
	f := scoredFile(t, s, "/music/volare.wav", 0.80, cand)

	r := New(s, func() config.RouterConfig { return defaultThresholds })
	d, err := r.Route(ctx, f.ID)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Status != store.StatusPendingReview || !d.Changed {
		t.Fatalf("expected a fresh pending_review disposition, got %+v", d)
	}
	if d.Reason != ReasonBetweenThresholds {
		t.Errorf("expected reason %s, got %s", ReasonBetweenThresholds, d.Reason)
	}

	entry, err := s.GetOpenReview(ctx, f.ID)
	if err != nil || entry == nil {
		t.Fatalf("expected an open review entry, got %v (err %v)", entry, err)
	}
	if entry.Confidence != 0.80 {
		t.Errorf("expected confidence 0.80, got %.2f", entry.Confidence)
	}
	prov, err := DecodeProvisional(entry.ProvisionalJSON)
	if err != nil {
		t.Fatalf("DecodeProvisional: %v", err)
	}
	if prov.Candidate == nil || prov.Candidate.WorkID != 7 {
		t.Errorf("expected provisional candidate 7, got %+v", prov.Candidate)
	}
}

func TestRouteAboveAcceptThreshold(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	cand := &match.Candidate{WorkID: 7, Title: "Volare", Similarity: 0.99}
	f := scoredFile(t, s, "/music/volare.wav", 0.90, cand)

	r := New(s, func() config.RouterConfig { return defaultThresholds })
	d, err := r.Route(ctx, f.ID)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Status != store.StatusAutoAccepted {
		t.Fatalf("expected auto_accepted, got %s", d.Status)
	}
	if d.Candidate == nil || d.Candidate.Title != "Volare" {
		t.Errorf("expected the scored candidate on the disposition, got %+v", d.Candidate)
	}
	if entry, _ := s.GetOpenReview(ctx, f.ID); entry != nil {
		t.Errorf("auto-accepted file must not have a review entry")
	}
}

func TestRouteNoCandidatesReason(t *testing.T) {
	s := openStore(t)
	f := scoredFile(t, s, "/music/unknown.wav", 0.50, nil)

	r := New(s, func() config.RouterConfig { return defaultThresholds })
	d, err := r.Route(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Status != store.StatusPendingReview || d.Reason != ReasonNoCandidates {
		t.Errorf("expected pending_review with no_candidates, got %s/%s", d.Status, d.Reason)
	}
}

func TestRouteIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	f := scoredFile(t, s, "/music/a.wav", 0.60, &match.Candidate{WorkID: 1, Title: "A"})

	r := New(s, func() config.RouterConfig { return defaultThresholds })
	if _, err := r.Route(ctx, f.ID); err != nil {
		t.Fatalf("first Route: %v", err)
	}
	before, _ := s.GetFile(ctx, f.ID)

	d, err := r.Route(ctx, f.ID)
	if err != nil {
		t.Fatalf("second Route: %v", err)
	}
	if d.Changed || d.Status != store.StatusPendingReview {
		t.Errorf("second Route must be a no-op, got %+v", d)
	}
	after, _ := s.GetFile(ctx, f.ID)
	if after.Version != before.Version {
		t.Errorf("version moved from %d to %d on a no-op", before.Version, after.Version)
	}

	violations, err := s.CheckReviewInvariant(ctx)
	if err != nil {
		t.Fatalf("CheckReviewInvariant: %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("unexpected violations: %v", violations)
	}
}

func TestRouteReadsThresholdsOnEveryCall(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a := scoredFile(t, s, "/music/a.wav", 0.80, &match.Candidate{WorkID: 1, Title: "A"})
	b := scoredFile(t, s, "/music/b.wav", 0.80, &match.Candidate{WorkID: 1, Title: "A"})

	current := defaultThresholds
	r := New(s, func() config.RouterConfig { return current })

	d, err := r.Route(ctx, a.ID)
	if err != nil || d.Status != store.StatusPendingReview {
		t.Fatalf("expected pending_review, got %+v (err %v)", d, err)
	}

	current = config.RouterConfig{AcceptThreshold: 0.75, RejectThreshold: 0.30}
	d, err = r.Route(ctx, b.ID)
	if err != nil || d.Status != store.StatusAutoAccepted {
		t.Fatalf("expected auto_accepted after lowering the threshold, got %+v (err %v)", d, err)
	}
}

func TestRouteRejectsInvalidThresholds(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	f := scoredFile(t, s, "/music/a.wav", 0.80, nil)

	r := New(s, func() config.RouterConfig {
		return config.RouterConfig{AcceptThreshold: 0.3, RejectThreshold: 0.6}
	})
	if _, err := r.Route(ctx, f.ID); !errors.Is(err, util.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	got, _ := s.GetFile(ctx, f.ID)
	if got.Status != store.StatusScored {
		t.Errorf("file must stay scored, got %s", got.Status)
	}
}

func TestRouteUnknownFile(t *testing.T) {
	s := openStore(t)
	r := New(s, func() config.RouterConfig { return defaultThresholds })
	if _, err := r.Route(context.Background(), 42); !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
