package review

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/franz/media-organizer/internal/config"
	"github.com/franz/media-organizer/internal/match"
	"github.com/franz/media-organizer/internal/route"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "review.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// pendingFile drives a new file through scoring and routing so it lands
// in the review queue with cand as its provisional identification.
func pendingFile(t *testing.T, s *store.Store, path string, cand *match.Candidate) *store.MediaFile {
	t.Helper()
	ctx := context.Background()

	f, _, err := s.RegisterFile(ctx, path, "hash-"+path, 2048, store.KindAudio)
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	fp, err := s.InsertFingerprint(ctx, &store.Fingerprint{
		MediaFileID: f.ID, Algorithm: "hk-audio", AlgorithmVersion: 1,
		Blob: []byte{9, 9, 9, 9}, BlobSHA256: "sha-" + path, FeaturesJSON: "{}",
	})
	if err != nil {
		t.Fatalf("InsertFingerprint: %v", err)
	}
	feat, err := s.InsertFeatures(ctx, f.ID, 1, `{"schema_version":1,"values":[]}`)
	if err != nil {
		t.Fatalf("InsertFeatures: %v", err)
	}

	res := &match.Result{Outcome: match.OutcomeNoCandidates}
	if cand != nil {
		res = &match.Result{Outcome: match.OutcomeMatched, Candidates: []match.Candidate{*cand}}
	}
	candJSON, _ := res.Encode()
	if err := s.SaveMatch(ctx, &store.MatchRecord{
		MediaFileID: f.ID, FingerprintID: fp.ID, Outcome: string(res.Outcome), CandidatesJSON: candJSON,
	}); err != nil {
		t.Fatalf("SaveMatch: %v", err)
	}
	rec := &store.ScoreRecord{
		MediaFileID: f.ID, ModelVersion: 2, FeaturesID: feat.ID,
		RawScore: 0.70, FinalScore: 0.80, BoostApplied: 0.10, BoostReason: "genre:canzone italiana",
		SignalsJSON: `{"top":[0.9,0,0]}`,
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

	r := route.New(s, func() config.RouterConfig {
		return config.RouterConfig{AcceptThreshold: 0.85, RejectThreshold: 0.30}
	})
	d, err := r.Route(ctx, f.ID)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Status != store.StatusPendingReview {
		t.Fatalf("expected pending_review, got %s", d.Status)
	}
	return f
}

func TestListPendingOldestFirst(t *testing.T) {
	s := openStore(t)
	svc := New(s)
	a := pendingFile(t, s, "/music/a.wav", &match.Candidate{WorkID: 1, Title: "A"})
	b := pendingFile(t, s, "/music/b.wav", nil)

	items, err := svc.ListPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 pending items, got %d", len(items))
	}
	if items[0].File.ID != a.ID || items[1].File.ID != b.ID {
		t.Errorf("expected order [%d %d], got [%d %d]", a.ID, b.ID, items[0].File.ID, items[1].File.ID)
	}
	if items[0].Provisional.Candidate == nil || items[1].Provisional.Candidate != nil {
		t.Errorf("unexpected provisional candidates: %+v / %+v", items[0].Provisional, items[1].Provisional)
	}

	limited, err := svc.ListPending(context.Background(), 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected 1 item with limit, got %d (err %v)", len(limited), err)
	}
}

func TestShow(t *testing.T) {
	s := openStore(t)
	svc := New(s)
	f := pendingFile(t, s, "/music/a.wav", &match.Candidate{WorkID: 3, Title: "Azzurro", Similarity: 0.91})

	item, err := svc.Show(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if item.File.Path != "/music/a.wav" {
		t.Errorf("expected path /music/a.wav, got %s", item.File.Path)
	}
	if len(item.Candidates) != 1 || item.Candidates[0].Title != "Azzurro" {
		t.Errorf("unexpected candidates: %+v", item.Candidates)
	}
	if item.Provisional.BoostReason != "genre:canzone italiana" {
		t.Errorf("expected boost reason on provisional, got %q", item.Provisional.BoostReason)
	}
}

func TestSubmitCorrection(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	svc := New(s)
	f := pendingFile(t, s, "/music/track01.wav", &match.Candidate{WorkID: 5, Title: "Wrong Song", Artist: "Someone"})

	out, err := svc.Submit(ctx, Decision{
		FileID: f.ID, Action: ActionCorrect, Title: "Nel blu dipinto di blu", Artist: "Domenico Modugno",
		Reviewer: "franz", Notes: "catalog had the B-side",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.FeedbackType != store.FeedbackCorrect {
		t.Errorf("expected feedback type correct, got %s", out.FeedbackType)
	}

	got, _ := s.GetFile(ctx, f.ID)
	if got.Status != store.StatusResolved {
		t.Errorf("expected resolved, got %s", got.Status)
	}
	if entry, _ := s.GetOpenReview(ctx, f.ID); entry != nil {
		t.Errorf("review entry must be closed")
	}

	md, err := s.GetMetadata(ctx, f.ID)
	if err != nil || md == nil {
		t.Fatalf("expected metadata, got %v (err %v)", md, err)
	}
	if md.Title != "Nel blu dipinto di blu" || md.Source != store.SourceReview || md.Quality != 1.0 {
		t.Errorf("unexpected metadata: %+v", md)
	}

	fbs, err := s.ListFeedback(ctx)
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	if len(fbs) != 1 {
		t.Fatalf("expected 1 feedback row, got %d", len(fbs))
	}
	fb := fbs[0]
	if fb.PredictedScore != 0.80 || fb.ModelVersion != 2 || fb.CorrectedJSON == "" {
		t.Errorf("unexpected feedback row: %+v", fb)
	}
	if fb.SignalsJSON != `{"top":[0.9,0,0]}` {
		t.Errorf("feedback must carry the scoring signals, got %s", fb.SignalsJSON)
	}

	logs, err := s.ListLogs(ctx, f.ID)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	found := false
	for _, l := range logs {
		if l.Stage == "review" && l.ToStatus == string(store.StatusResolved) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a review log row, got %d rows", len(logs))
	}

	if violations, _ := s.CheckReviewInvariant(ctx); len(violations) != 0 {
		t.Errorf("unexpected invariant violations: %v", violations)
	}
}

func TestSubmitConfirmWritesCandidateMetadata(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	svc := New(s)
	f := pendingFile(t, s, "/music/a.wav", &match.Candidate{WorkID: 3, Title: "Azzurro", Artist: "Paolo Conte", Country: "IT"})

	out, err := svc.Submit(ctx, Decision{FileID: f.ID, Action: ActionConfirm})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Metadata == nil || out.Metadata.Artist != "Paolo Conte" || out.Metadata.Country != "IT" {
		t.Errorf("expected candidate metadata, got %+v", out.Metadata)
	}
}

func TestSubmitCorrectionToProvisionalWorkCountsAsConfirm(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.InsertWork(ctx, &store.Work{Title: "Azzurro", Artist: "Paolo Conte"}); err != nil {
		t.Fatalf("InsertWork: %v", err)
	}
	svc := New(s)
	f := pendingFile(t, s, "/music/a.wav", &match.Candidate{WorkID: 1, Title: "Azzurro"})

	out, err := svc.Submit(ctx, Decision{FileID: f.ID, Action: ActionCorrect, WorkID: 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.FeedbackType != store.FeedbackConfirm {
		t.Errorf("expected confirm, got %s", out.FeedbackType)
	}
	if out.Metadata.Artist != "Paolo Conte" {
		t.Errorf("expected work metadata, got %+v", out.Metadata)
	}
}

func TestSubmitUnidentifiable(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	svc := New(s)
	f := pendingFile(t, s, "/music/noise.wav", nil)

	out, err := svc.Submit(ctx, Decision{FileID: f.ID, Action: ActionUnidentifiable})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Metadata != nil {
		t.Errorf("unidentifiable must not record metadata, got %+v", out.Metadata)
	}
	if n, _ := s.CountFeedback(ctx, f.ID); n != 1 {
		t.Errorf("expected 1 feedback row, got %d", n)
	}
}

func TestSubmitRejects(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	svc := New(s)
	withCand := pendingFile(t, s, "/music/a.wav", &match.Candidate{WorkID: 1, Title: "A"})
	noCand := pendingFile(t, s, "/music/b.wav", nil)

	tests := []struct {
		name string
		d    Decision
		want error
	}{
		{"correct without identity", Decision{FileID: withCand.ID, Action: ActionCorrect}, ErrInvalidDecision},
		{"unknown action", Decision{FileID: withCand.ID, Action: "maybe"}, ErrInvalidDecision},
		{"confirm without candidate", Decision{FileID: noCand.ID, Action: ActionConfirm}, ErrInvalidDecision},
		{"unknown file", Decision{FileID: 999, Action: ActionConfirm}, util.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Submit(ctx, tt.d); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := svc.Submit(ctx, Decision{FileID: withCand.ID, Action: ActionConfirm}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.Submit(ctx, Decision{FileID: withCand.ID, Action: ActionConfirm}); !errors.Is(err, util.ErrNotPending) {
		t.Errorf("second submit: expected ErrNotPending, got %v", err)
	}
	if n, _ := s.CountFeedback(ctx, withCand.ID); n != 1 {
		t.Errorf("expected exactly 1 feedback row after the rejected resubmit, got %d", n)
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction(" Confirm "); err != nil || a != ActionConfirm {
		t.Errorf("ParseAction(Confirm) = %q, %v", a, err)
	}
	if _, err := ParseAction("skip"); !errors.Is(err, ErrInvalidDecision) {
		t.Errorf("expected ErrInvalidDecision, got %v", err)
	}
}
