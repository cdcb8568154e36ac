package score

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/franz/media-organizer/internal/features"
	"github.com/franz/media-organizer/internal/match"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

// constantModel always predicts p.
func constantModel(p float64) *Model {
	n := InputDim(features.SchemaVersion)
	m := &Model{
		SchemaVersion: features.SchemaVersion,
		Weights:       make([]float64, n),
		Bias:          math.Log(p / (1 - p)),
		Mean:          make([]float64, n),
		Std:           make([]float64, n),
	}
	for i := range m.Std {
		m.Std[i] = 1
	}
	return m
}

type staticSource struct {
	model *Model
}

func (s staticSource) Active(ctx context.Context) (*ActiveModel, error) {
	if s.model == nil {
		return nil, util.ErrModelUnavailable
	}
	return &ActiveModel{Version: 3, Model: s.model}, nil
}

func italianRule(amount float64) BoostRule {
	return BoostRule{
		Enabled:       true,
		Amount:        amount,
		MinIndication: 0.8,
		Genres:        []string{"canzone italiana", "italian pop"},
		Regions:       []string{"IT"},
		Languages:     []string{"it"},
		Keywords:      []string{"amore", "cuore", "notte"},
	}
}

func matched(c match.Candidate) *match.Result {
	return &match.Result{Outcome: match.OutcomeMatched, Candidates: []match.Candidate{c}}
}

func TestScoreWithAndWithoutBoost(t *testing.T) {
	vec := features.Vectorize(nil, nil)
	ctx := context.Background()

	plain := NewScorer(staticSource{constantModel(0.80)}, func() BoostRule { return italianRule(0.10) })
	res, err := plain.Score(ctx, Input{
		Vector: vec,
		Match:  matched(match.Candidate{WorkID: 1, Title: "Yesterday", Country: "GB", Similarity: 0.95}),
	})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if math.Abs(res.PreBoost-0.80) > 1e-9 || math.Abs(res.Final-0.80) > 1e-9 {
		t.Errorf("expected 0.80 before and after boost, got %.4f / %.4f", res.PreBoost, res.Final)
	}
	if res.BoostApplied != 0 || res.BoostReason != "" {
		t.Errorf("expected no boost, got %.2f (%s)", res.BoostApplied, res.BoostReason)
	}
	if res.Candidate == nil || res.Candidate.WorkID != 1 || res.ModelVersion != 3 {
		t.Errorf("unexpected result %+v", res)
	}

	res, err = plain.Score(ctx, Input{
		Vector: vec,
		Match:  matched(match.Candidate{WorkID: 2, Title: "Caruso", Genre: "Canzone Italiana", Similarity: 0.95}),
	})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if math.Abs(res.PreBoost-0.80) > 1e-9 || math.Abs(res.Final-0.90) > 1e-9 {
		t.Errorf("expected 0.80 boosted to 0.90, got %.4f / %.4f", res.PreBoost, res.Final)
	}
	if res.BoostReason != "genre:canzone italiana" {
		t.Errorf("unexpected boost reason %q", res.BoostReason)
	}
}

func TestScoreUnidentified(t *testing.T) {
	s := NewScorer(staticSource{PriorModel()}, func() BoostRule { return BoostRule{} })
	res, err := s.Score(context.Background(), Input{
		Vector: features.Vectorize(nil, nil),
		Match:  &match.Result{Outcome: match.OutcomeNoCandidates},
	})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if res.Candidate != nil {
		t.Error("expected unidentified result")
	}
	if res.Final > 0.3 {
		t.Errorf("expected prior to give a low score without candidates, got %.3f", res.Final)
	}
}

func TestScoreErrors(t *testing.T) {
	ctx := context.Background()

	s := NewScorer(staticSource{}, func() BoostRule { return BoostRule{} })
	if _, err := s.Score(ctx, Input{Vector: features.Vectorize(nil, nil)}); !errors.Is(err, util.ErrModelUnavailable) {
		t.Errorf("expected ErrModelUnavailable, got %v", err)
	}

	s = NewScorer(staticSource{PriorModel()}, func() BoostRule { return BoostRule{} })
	bad := &features.Vector{SchemaVersion: 2, Values: make([]float64, 16)}
	if _, err := s.Score(ctx, Input{Vector: bad}); !errors.Is(err, util.ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestPriorModelOrdering(t *testing.T) {
	vec := features.Vectorize(nil, nil)
	m := PriorModel()

	strong, _ := RawScore(m, vec, Signals{Top: [3]float64{1}, Margin: 1, Corroboration: 1, Candidates: 1})
	ambiguous, _ := RawScore(m, vec, Signals{Top: [3]float64{1, 1}, Margin: 0, Candidates: 2})
	weak, _ := RawScore(m, vec, Signals{Top: [3]float64{0.6}, Margin: 0.6, Candidates: 1})
	none, _ := RawScore(m, vec, Signals{})

	if !(strong > ambiguous && ambiguous > none && weak > none) {
		t.Errorf("unexpected prior ordering: strong %.3f ambiguous %.3f weak %.3f none %.3f",
			strong, ambiguous, weak, none)
	}
	if strong < 0.85 {
		t.Errorf("expected a unique corroborated exact match to clear 0.85, got %.3f", strong)
	}
}

func TestBoostMonotonicAndCapped(t *testing.T) {
	for _, raw := range []float64{0, 0.3, 0.8, 0.95, 1} {
		prev := -1.0
		for amount := 0.0; amount <= 0.5+1e-9; amount += 0.05 {
			final, applied := italianRule(amount).Apply(raw, 1)
			if final > 1 {
				t.Fatalf("raw %.2f amount %.2f: final %.4f exceeds 1", raw, amount, final)
			}
			if final < prev {
				t.Fatalf("raw %.2f: final decreased from %.4f to %.4f at amount %.2f", raw, prev, final, amount)
			}
			if final < raw || math.Abs(final-raw-applied) > 1e-12 {
				t.Fatalf("raw %.2f amount %.2f: inconsistent final %.4f applied %.4f", raw, amount, final, applied)
			}
			prev = final
		}
	}

	if final, _ := italianRule(0.10).Apply(0.95, 1); final != 1 {
		t.Errorf("expected cap at 1.0, got %v", final)
	}
	if final, _ := italianRule(0.10).Apply(0.5, 0.79); final != 0.5 {
		t.Errorf("expected no boost below min indication, got %v", final)
	}
	disabled := italianRule(0.10)
	disabled.Enabled = false
	if final, _ := disabled.Apply(0.5, 1); final != 0.5 {
		t.Errorf("expected disabled rule to leave score, got %v", final)
	}
}

func TestIndication(t *testing.T) {
	rule := italianRule(0.1)
	tests := []struct {
		name   string
		ev     BoostEvidence
		want   float64
		reason string
	}{
		{"genre", BoostEvidence{Genre: "Italian Pop"}, 1, "genre:italian pop"},
		{"region", BoostEvidence{Country: "it"}, 1, "region:IT"},
		{"language", BoostEvidence{Language: "IT"}, 0.9, "language:it"},
		{"keywords", BoostEvidence{Title: "Notte d'amore"}, 1, "keywords:0.67"},
		{"few keywords", BoostEvidence{Title: "Love at night under the cuore"}, 2.0 / 6, "keywords:0.17"},
		{"nothing", BoostEvidence{Title: "Yesterday", Country: "GB"}, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := rule.Indication(tt.ev)
			if math.Abs(got-tt.want) > 1e-9 || reason != tt.reason {
				t.Errorf("expected %.3f (%s), got %.3f (%s)", tt.want, tt.reason, got, reason)
			}
		})
	}
}

func separableSamples(n int) []Sample {
	samples := make([]Sample, 0, n)
	zeros := features.Vectorize(nil, nil).Values
	for i := 1; i <= n; i++ {
		top := float64(i%10)/10 + 0.05
		sig := Signals{Top: [3]float64{top}, Margin: top, Candidates: 1}
		y := 0.0
		if top > 0.3 {
			y = 1
		}
		x := append(append([]float64(nil), zeros...), sig.Values()...)
		samples = append(samples, Sample{ID: int64(i), X: x, Y: y})
	}
	return samples
}

func TestTrainDeterministic(t *testing.T) {
	cfg := TrainConfig{Epochs: 400, LearningRate: 0.3, L2: 0.001, MinSamples: 20, MinAccuracy: 0.6}
	samples := separableSamples(60)

	m1, met1, err := Train(samples, features.SchemaVersion, cfg)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	reversed := make([]Sample, len(samples))
	for i, s := range samples {
		reversed[len(samples)-1-i] = s
	}
	m2, met2, err := Train(reversed, features.SchemaVersion, cfg)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if met1 != met2 || !reflect.DeepEqual(m1, m2) {
		t.Errorf("expected identical models, got metrics %+v vs %+v", met1, met2)
	}
	if met1.ValidationSize != 12 || met1.TrainingSize != 48 {
		t.Errorf("expected 48/12 split, got %d/%d", met1.TrainingSize, met1.ValidationSize)
	}
	if met1.Accuracy < 0.9 {
		t.Errorf("expected separable data to validate, got accuracy %.3f", met1.Accuracy)
	}
	if err := Gate(met1, cfg); err != nil {
		t.Errorf("expected gate to pass: %v", err)
	}
	if err := Gate(Metrics{Accuracy: 0.5}, cfg); !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("expected ErrValidationFailed, got %v", err)
	}
}

func TestTrainWeights(t *testing.T) {
	cfg := TrainConfig{Epochs: 50, LearningRate: 0.3, L2: 0.001, MinSamples: 20}
	unweighted := separableSamples(40)
	scaled := separableSamples(40)
	for i := range scaled {
		scaled[i].W = 2
	}

	m1, _, err := Train(unweighted, features.SchemaVersion, cfg)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	m2, _, err := Train(scaled, features.SchemaVersion, cfg)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if !reflect.DeepEqual(m1, m2) {
		t.Error("uniform weights must not change the model")
	}

	// weighting the negatives up pulls the mean prediction down
	skewed := separableSamples(40)
	for i := range skewed {
		if skewed[i].Y == 0 {
			skewed[i].W = 5
		}
	}
	m3, _, err := Train(skewed, features.SchemaVersion, cfg)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	var sum1, sum3 float64
	for _, s := range unweighted {
		p1, _ := m1.Predict(s.X)
		p3, _ := m3.Predict(s.X)
		sum1 += p1
		sum3 += p3
	}
	if sum3 >= sum1 {
		t.Errorf("expected lower predictions with heavier negatives, got %.3f vs %.3f", sum3, sum1)
	}
}

func TestTrainingSet(t *testing.T) {
	samples := separableSamples(10)
	samples[2].W = 0.5

	uses := TrainingSet(samples)
	if len(uses) != 10 {
		t.Fatalf("expected 10 uses, got %d", len(uses))
	}
	for _, u := range uses {
		want := store.SplitTrain
		if u.FeedbackID%5 == 0 {
			want = store.SplitValidation
		}
		if u.Split != want {
			t.Errorf("feedback %d: expected %s, got %s", u.FeedbackID, want, u.Split)
		}
	}
	if uses[2].Weight != 0.5 || uses[0].Weight != 1 {
		t.Errorf("expected weights 1 and 0.5, got %v and %v", uses[0].Weight, uses[2].Weight)
	}

	// a lone validation row trains instead
	single := TrainingSet([]Sample{{ID: 5}})
	if len(single) != 1 || single[0].Split != store.SplitTrain {
		t.Errorf("expected one training row, got %+v", single)
	}
}

func TestTrainInsufficientFeedback(t *testing.T) {
	cfg := TrainConfig{Epochs: 10, LearningRate: 0.3, MinSamples: 20}
	if _, _, err := Train(separableSamples(5), features.SchemaVersion, cfg); !errors.Is(err, util.ErrInsufficientFeedback) {
		t.Errorf("expected ErrInsufficientFeedback, got %v", err)
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(openStore(t))

	if _, err := reg.Active(ctx); !errors.Is(err, util.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable on empty registry, got %v", err)
	}

	v, created, err := reg.Bootstrap(ctx)
	if err != nil || !created || v != 1 {
		t.Fatalf("expected bootstrap to create v1, got %d %v %v", v, created, err)
	}
	if _, created, _ := reg.Bootstrap(ctx); created {
		t.Error("expected second bootstrap to be a no-op")
	}

	v2, err := reg.Publish(ctx, constantModel(0.7), Metrics{TrainingSize: 40, ValidationSize: 10, Accuracy: 0.8}, TrainConfig{Epochs: 5}, nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	active, err := reg.Active(ctx)
	if err != nil || active.Version != 1 {
		t.Fatalf("expected v1 still active after publish, got %+v %v", active, err)
	}

	if err := reg.Activate(ctx, v2); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	active, err = reg.Active(ctx)
	if err != nil || active.Version != v2 {
		t.Fatalf("expected v%d active, got %+v %v", v2, active, err)
	}
	if p, _ := active.Model.Predict(make([]float64, InputDim(1))); math.Abs(p-0.7) > 1e-9 {
		t.Errorf("expected decoded model to predict 0.7, got %v", p)
	}

	if err := reg.Activate(ctx, 99); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := reg.List(ctx)
	if err != nil || len(list) != 2 || list[0].Version != v2 || !list[0].Active || list[1].Active {
		t.Errorf("unexpected model list %+v (%v)", list, err)
	}
}

func TestBuildSamples(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	f, _, err := s.RegisterFile(ctx, "/music/a.wav", "hash-a", 10, store.KindAudio)
	if err != nil {
		t.Fatalf("RegisterFile failed: %v", err)
	}
	vecJSON, _ := features.Vectorize(nil, nil).Encode()
	row, err := s.InsertFeatures(ctx, f.ID, features.SchemaVersion, vecJSON)
	if err != nil {
		t.Fatalf("InsertFeatures failed: %v", err)
	}
	sigJSON, _ := Signals{Top: [3]float64{0.9}, Margin: 0.9, Candidates: 1}.Encode()

	for _, typ := range []string{store.FeedbackConfirm, store.FeedbackCorrect} {
		if err := s.AppendFeedback(ctx, &store.Feedback{
			MediaFileID: f.ID, FeaturesID: row.ID, ProvisionalJSON: "{}",
			FeedbackType: typ, SignalsJSON: sigJSON,
		}); err != nil {
			t.Fatalf("AppendFeedback failed: %v", err)
		}
	}

	samples, err := BuildSamples(ctx, s, features.SchemaVersion)
	if err != nil {
		t.Fatalf("BuildSamples failed: %v", err)
	}
	if len(samples) != 2 || samples[0].Y != 1 || samples[1].Y != 0 {
		t.Fatalf("unexpected samples %+v", samples)
	}
	if len(samples[0].X) != InputDim(features.SchemaVersion) {
		t.Errorf("expected %d inputs, got %d", InputDim(1), len(samples[0].X))
	}
}
