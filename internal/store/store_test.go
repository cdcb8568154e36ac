package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/franz/media-organizer/internal/util"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreOpenAndMigrate(t *testing.T) {
	s := openTestStore(t)

	version, err := s.getSchemaVersion()
	if err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", currentSchemaVersion, version)
	}

	tables := []string{
		"media_files", "fingerprints", "media_metadata", "ml_features", "match_results", "scores",
		"ml_models", "review_queue", "ml_feedback", "processing_logs", "works", "work_fingerprints",
		"ml_model_feedback",
	}
	for _, table := range tables {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}

	if err := s.CheckIntegrity(); err != nil {
		t.Errorf("integrity check failed: %v", err)
	}
}

func TestRegisterFileIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f, created, err := s.RegisterFile(ctx, "/music/a.wav", "hash-a", 1024, KindAudio)
	if err != nil {
		t.Fatalf("failed to register file: %v", err)
	}
	if !created {
		t.Error("expected first registration to create the row")
	}
	if f.Status != StatusDiscovered || f.Version != 1 {
		t.Errorf("expected discovered@1, got %s@%d", f.Status, f.Version)
	}

	again, created, err := s.RegisterFile(ctx, "/music/a.wav", "hash-a", 1024, KindAudio)
	if err != nil {
		t.Fatalf("failed to re-register file: %v", err)
	}
	if created {
		t.Error("expected re-registration not to create a row")
	}
	if again.ID != f.ID {
		t.Errorf("expected same ID %d, got %d", f.ID, again.ID)
	}
}

func TestTransitionCompareAndSwap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f, _, err := s.RegisterFile(ctx, "/music/b.wav", "hash-b", 10, KindAudio)
	if err != nil {
		t.Fatalf("failed to register file: %v", err)
	}

	if err := s.Transition(ctx, f, StatusScored, "", ""); !errors.Is(err, util.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}

	stale := *f
	if err := s.Transition(ctx, f, StatusFingerprinted, "", ""); err != nil {
		t.Fatalf("failed to transition: %v", err)
	}
	if f.Version != 2 || f.Status != StatusFingerprinted {
		t.Errorf("expected fingerprinted@2, got %s@%d", f.Status, f.Version)
	}

	if err := s.Transition(ctx, &stale, StatusExtractionFailed, "corrupt_media", "bad"); !errors.Is(err, util.ErrConflict) {
		t.Fatalf("expected conflict for stale writer, got %v", err)
	}

	stored, err := s.GetFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("failed to get file: %v", err)
	}
	if stored.Status != StatusFingerprinted {
		t.Errorf("stale writer must not win, got status %s", stored.Status)
	}
}

func TestFingerprintInsertIfAbsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f, _, _ := s.RegisterFile(ctx, "/music/c.wav", "hash-c", 10, KindAudio)
	first, err := s.InsertFingerprint(ctx, &Fingerprint{
		MediaFileID: f.ID, Algorithm: "hk-audio", AlgorithmVersion: 1,
		Blob: []byte{1, 2, 3, 4}, BlobSHA256: "x", FeaturesJSON: "{}",
	})
	if err != nil {
		t.Fatalf("failed to insert fingerprint: %v", err)
	}

	second, err := s.InsertFingerprint(ctx, &Fingerprint{
		MediaFileID: f.ID, Algorithm: "hk-audio", AlgorithmVersion: 1,
		Blob: []byte{9, 9, 9, 9}, BlobSHA256: "y", FeaturesJSON: "{}",
	})
	if err != nil {
		t.Fatalf("failed to re-insert fingerprint: %v", err)
	}
	if second.ID != first.ID || !bytes.Equal(second.Blob, []byte{1, 2, 3, 4}) {
		t.Error("expected the original fingerprint to be kept")
	}

	n, err := s.CountFingerprints(ctx, f.ID)
	if err != nil {
		t.Fatalf("failed to count fingerprints: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 fingerprint, got %d", n)
	}
}

func TestMetadataKeepsHigherQuality(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	f, _, _ := s.RegisterFile(ctx, "/music/d.wav", "hash-d", 10, KindAudio)

	written, err := s.UpsertMetadata(ctx, &Metadata{MediaFileID: f.ID, Title: "Reviewed", Source: SourceReview, Quality: 1.0})
	if err != nil || !written {
		t.Fatalf("expected first write, got written=%v err=%v", written, err)
	}

	written, err = s.UpsertMetadata(ctx, &Metadata{MediaFileID: f.ID, Title: "From tags", Source: SourceContainerTags, Quality: 0.4})
	if err != nil {
		t.Fatalf("failed to upsert metadata: %v", err)
	}
	if written {
		t.Error("lower quality source must not overwrite")
	}

	m, err := s.GetMetadata(ctx, f.ID)
	if err != nil {
		t.Fatalf("failed to get metadata: %v", err)
	}
	if m.Title != "Reviewed" {
		t.Errorf("expected reviewed title, got %q", m.Title)
	}
}

func TestActivateModelKeepsSingleActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.InsertModel(ctx, &ModelRecord{ParamsJSON: "{}", HyperparamsJSON: "{}"}); err != nil {
			t.Fatalf("failed to insert model: %v", err)
		}
	}

	for _, v := range []int{1, 2, 1} {
		err := s.InTx(ctx, func(tx *Tx) error { return tx.ActivateModel(ctx, v) })
		if err != nil {
			t.Fatalf("failed to activate %d: %v", v, err)
		}
		active, err := s.GetActiveModel(ctx)
		if err != nil {
			t.Fatalf("failed to get active model: %v", err)
		}
		if active == nil || active.Version != v {
			t.Fatalf("expected active version %d, got %+v", v, active)
		}
	}

	var activeCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM ml_models WHERE active = 1").Scan(&activeCount); err != nil {
		t.Fatalf("failed to count active models: %v", err)
	}
	if activeCount != 1 {
		t.Errorf("expected exactly 1 active model, got %d", activeCount)
	}

	err := s.InTx(ctx, func(tx *Tx) error { return tx.ActivateModel(ctx, 99) })
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown version, got %v", err)
	}
}

func TestReviewQueueSingleOpenEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	f, _, _ := s.RegisterFile(ctx, "/music/e.wav", "hash-e", 10, KindAudio)

	entry := &ReviewEntry{MediaFileID: f.ID, ProvisionalJSON: "{}", Confidence: 0.6, PreBoost: 0.6, Reason: "score_between_thresholds"}
	if err := s.EnqueueReview(ctx, entry); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	dup := &ReviewEntry{MediaFileID: f.ID, ProvisionalJSON: "{}", Reason: "again"}
	if err := s.EnqueueReview(ctx, dup); !errors.Is(err, util.ErrConflict) {
		t.Fatalf("expected conflict on second open entry, got %v", err)
	}

	// File is still discovered, so the open entry is a violation.
	violations, err := s.CheckReviewInvariant(ctx)
	if err != nil {
		t.Fatalf("failed to check invariant: %v", err)
	}
	if len(violations) != 1 || violations[0].MediaFileID != f.ID {
		t.Fatalf("expected one violation for file %d, got %v", f.ID, violations)
	}

	if err := s.ResolveReview(ctx, entry.ID, FeedbackConfirm, "tester", ""); err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	if err := s.ResolveReview(ctx, entry.ID, FeedbackConfirm, "tester", ""); !errors.Is(err, util.ErrConflict) {
		t.Errorf("expected conflict resolving twice, got %v", err)
	}

	open, err := s.ListOpenReviews(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("expected no open entries, got %d", len(open))
	}
}

func TestStatusMachine(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusDiscovered, StatusFingerprinted, true},
		{StatusFingerprinted, StatusFailed, true},
		{StatusMatched, StatusFailed, true},
		{StatusScored, StatusFailed, true},
		{StatusFailed, StatusDiscovered, true},
		{StatusDiscovered, StatusFailed, false},
		{StatusPendingReview, StatusFailed, false},
		{StatusAutoAccepted, StatusFailed, false},
		{StatusFailed, StatusFingerprinted, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.allowed, got)
		}
	}
	if !StatusFailed.IsTerminal() {
		t.Error("failed must be terminal")
	}
	if _, err := ParseStatus("failed"); err != nil {
		t.Errorf("failed must parse: %v", err)
	}
}

func TestRegisterFileLinksDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, _, err := s.RegisterFile(ctx, "/music/a.wav", "same", 10, KindAudio)
	if err != nil {
		t.Fatalf("failed to register file: %v", err)
	}
	other, _, _ := s.RegisterFile(ctx, "/music/b.wav", "different", 10, KindAudio)
	copy1, created, err := s.RegisterFile(ctx, "/backup/a.wav", "same", 10, KindAudio)
	if err != nil || !created {
		t.Fatalf("failed to register copy: created=%v err=%v", created, err)
	}
	copy2, _, _ := s.RegisterFile(ctx, "/backup/old/a.wav", "same", 10, KindAudio)

	if first.DuplicateOf != 0 || other.DuplicateOf != 0 {
		t.Errorf("originals must not be duplicates, got %d and %d", first.DuplicateOf, other.DuplicateOf)
	}
	if copy1.DuplicateOf != first.ID || copy2.DuplicateOf != first.ID {
		t.Errorf("expected copies of %d, got %d and %d", first.ID, copy1.DuplicateOf, copy2.DuplicateOf)
	}

	same, err := s.ListFilesByHash(ctx, "same")
	if err != nil {
		t.Fatalf("failed to list by hash: %v", err)
	}
	if len(same) != 3 || same[0].ID != first.ID {
		t.Errorf("expected 3 files led by %d, got %d", first.ID, len(same))
	}

	groups, err := s.ListDuplicates(ctx)
	if err != nil {
		t.Fatalf("failed to list duplicates: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Paths) != 3 || groups[0].Paths[0] != "/music/a.wav" {
		t.Errorf("expected one group of three led by /music/a.wav, got %+v", groups)
	}
}

func TestTrainingSetMarksFeedback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	f, _, _ := s.RegisterFile(ctx, "/music/e.wav", "hash-e", 10, KindAudio)
	row, err := s.InsertFeatures(ctx, f.ID, 1, "{}")
	if err != nil {
		t.Fatalf("failed to insert features: %v", err)
	}

	var ids []int64
	for i, weight := range []float64{0, 2.5, 1} {
		fb := &Feedback{
			MediaFileID: f.ID, FeaturesID: row.ID, ProvisionalJSON: "{}",
			FeedbackType: FeedbackConfirm, PredictedScore: 0.5, ModelVersion: 1,
			SignalsJSON: "{}", TrainingWeight: weight,
		}
		if err := s.AppendFeedback(ctx, fb); err != nil {
			t.Fatalf("failed to append feedback %d: %v", i, err)
		}
		ids = append(ids, fb.ID)
	}

	if n, err := s.CountUnusedFeedback(ctx, 1); err != nil || n != 3 {
		t.Fatalf("expected 3 unused rows, got %d (err %v)", n, err)
	}
	if n, _ := s.CountUnusedFeedback(ctx, 2); n != 0 {
		t.Errorf("rows under another schema must not count, got %d", n)
	}

	version, err := s.InsertModel(ctx, &ModelRecord{ParamsJSON: "{}", HyperparamsJSON: "{}"})
	if err != nil {
		t.Fatalf("failed to insert model: %v", err)
	}
	uses := []TrainingUse{
		{FeedbackID: ids[0], Split: SplitTrain, Weight: 1},
		{FeedbackID: ids[1], Split: SplitValidation, Weight: 2.5},
	}
	if err := s.InTx(ctx, func(tx *Tx) error { return tx.RecordTrainingSet(ctx, version, uses) }); err != nil {
		t.Fatalf("failed to record training set: %v", err)
	}

	if n, _ := s.CountUnusedFeedback(ctx, 1); n != 1 {
		t.Errorf("expected 1 unused row, got %d", n)
	}
	got, err := s.ListTrainingSet(ctx, version)
	if err != nil || len(got) != 2 || got[1].Split != SplitValidation {
		t.Errorf("expected the recorded training set, got %+v (err %v)", got, err)
	}

	all, err := s.ListFeedback(ctx)
	if err != nil {
		t.Fatalf("failed to list feedback: %v", err)
	}
	if all[0].TrainingWeight != 1 || all[1].TrainingWeight != 2.5 {
		t.Errorf("expected weights 1 and 2.5, got %v and %v", all[0].TrainingWeight, all[1].TrainingWeight)
	}
	if !all[0].UsedForTraining || !all[1].UsedForTraining || all[2].UsedForTraining {
		t.Errorf("expected only the first two rows used, got %v %v %v",
			all[0].UsedForTraining, all[1].UsedForTraining, all[2].UsedForTraining)
	}
}
