package score

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/franz/media-organizer/internal/config"
	"github.com/franz/media-organizer/internal/features"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
	"gonum.org/v1/gonum/floats"
)

// TrainConfig holds the training hyper-parameters and the publication gate.
type TrainConfig struct {
	Epochs       int     `json:"epochs"`
	LearningRate float64 `json:"learning_rate"`
	L2           float64 `json:"l2"`
	MinSamples   int     `json:"min_samples"`
	MinAccuracy  float64 `json:"min_accuracy"`
}

// TrainConfigFrom builds the training settings from a config snapshot.
func TrainConfigFrom(cfg config.TrainingConfig) TrainConfig {
	return TrainConfig{
		Epochs:       cfg.Epochs,
		LearningRate: cfg.LearningRate,
		L2:           cfg.L2,
		MinSamples:   cfg.MinSamples,
		MinAccuracy:  cfg.MinAccuracy,
	}
}

// Metrics describe a trained model on its validation split.
type Metrics struct {
	TrainingSize   int
	ValidationSize int
	Accuracy       float64
	LogLoss        float64
}

// Sample is one labelled training row. W weighs its gradient; 0 counts
// as 1.
type Sample struct {
	ID int64
	X  []float64
	Y  float64
	W  float64
}

func (s Sample) weight() float64 {
	if s.W <= 0 {
		return 1
	}
	return s.W
}

// Label maps a review disposition to the training target: 1 when the
// reviewer confirmed the provisional candidate, 0 otherwise.
func Label(feedbackType string) float64 {
	if feedbackType == store.FeedbackConfirm {
		return 1
	}
	return 0
}

// FeedbackSource is the read side of the feedback log.
type FeedbackSource interface {
	ListFeedback(ctx context.Context) ([]*store.Feedback, error)
	GetFeaturesByID(ctx context.Context, id int64) (*store.FeatureRow, error)
}

// BuildSamples joins every feedback row with the feature vector and
// signals it was scored with. Rows recorded under another feature schema
// are skipped.
func BuildSamples(ctx context.Context, src FeedbackSource, schemaVersion int) ([]Sample, error) {
	rows, err := src.ListFeedback(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}

	samples := make([]Sample, 0, len(rows))
	skipped := 0
	for _, fb := range rows {
		row, err := src.GetFeaturesByID(ctx, fb.FeaturesID)
		if err != nil {
			return nil, err
		}
		if row == nil {
			skipped++
			continue
		}
		vec, err := features.Decode(row.VectorJSON, schemaVersion)
		if err != nil {
			if errors.Is(err, util.ErrSchemaMismatch) {
				skipped++
				continue
			}
			return nil, err
		}
		sig, err := DecodeSignals(fb.SignalsJSON)
		if err != nil {
			skipped++
			continue
		}

		x := append(append([]float64(nil), vec.Values...), sig.Values()...)
		samples = append(samples, Sample{ID: fb.ID, X: x, Y: Label(fb.FeedbackType), W: fb.TrainingWeight})
	}
	if skipped > 0 {
		util.WarnLog("Skipped %d feedback rows without usable features", skipped)
	}
	return samples, nil
}

// isValidation puts every fifth feedback row in the validation split.
func isValidation(id int64) bool {
	return id%5 == 0
}

// split orders samples by ID and divides them into training and
// validation rows. With too few rows one side stands in for the other.
func split(samples []Sample) (train, valid []Sample) {
	ordered := append([]Sample(nil), samples...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	for _, s := range ordered {
		if isValidation(s.ID) {
			valid = append(valid, s)
		} else {
			train = append(train, s)
		}
	}
	if len(train) == 0 {
		train, valid = valid, nil
	}
	if len(valid) == 0 {
		valid = train
	}
	return train, valid
}

// TrainingSet lists how Train uses each sample, for recording with the
// published model.
func TrainingSet(samples []Sample) []store.TrainingUse {
	train, valid := split(samples)
	inTrain := make(map[int64]bool, len(train))
	out := make([]store.TrainingUse, 0, len(samples))
	for _, s := range train {
		inTrain[s.ID] = true
		out = append(out, store.TrainingUse{FeedbackID: s.ID, Split: store.SplitTrain, Weight: s.weight()})
	}
	for _, s := range valid {
		if !inTrain[s.ID] {
			out = append(out, store.TrainingUse{FeedbackID: s.ID, Split: store.SplitValidation, Weight: s.weight()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeedbackID < out[j].FeedbackID })
	return out
}

// Train fits a model by full-batch gradient descent on the weighted
// log-loss. The result depends only on the samples and cfg.
func Train(samples []Sample, schemaVersion int, cfg TrainConfig) (*Model, Metrics, error) {
	if len(samples) < cfg.MinSamples || len(samples) == 0 {
		return nil, Metrics{}, fmt.Errorf("%d feedback rows, need %d: %w",
			len(samples), cfg.MinSamples, util.ErrInsufficientFeedback)
	}
	dim := InputDim(schemaVersion)
	for _, s := range samples {
		if len(s.X) != dim {
			return nil, Metrics{}, fmt.Errorf("sample %d has %d inputs, want %d: %w", s.ID, len(s.X), dim, util.ErrSchemaMismatch)
		}
	}
	train, valid := split(samples)

	m := &Model{
		SchemaVersion: schemaVersion,
		Weights:       make([]float64, dim),
		Mean:          make([]float64, dim),
		Std:           make([]float64, dim),
	}
	standardize(m, train)

	var n float64
	for _, s := range train {
		n += s.weight()
	}
	grad := make([]float64, dim)
	z := make([]float64, dim)
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		clear(grad)
		var gradBias float64
		for _, s := range train {
			for i, v := range s.X {
				z[i] = (v - m.Mean[i]) / m.Std[i]
			}
			p := sigmoid(m.rawLogit(z))
			diff := (p - s.Y) * s.weight()
			floats.AddScaled(grad, diff, z)
			gradBias += diff
		}
		for i := range m.Weights {
			m.Weights[i] -= cfg.LearningRate * (grad[i]/n + cfg.L2*m.Weights[i])
		}
		m.Bias -= cfg.LearningRate * gradBias / n
	}

	metrics := evaluate(m, valid)
	metrics.TrainingSize = len(train)
	return m, metrics, nil
}

// rawLogit scores an already standardized input.
func (m *Model) rawLogit(z []float64) float64 {
	return m.Bias + floats.Dot(m.Weights, z)
}

func standardize(m *Model, train []Sample) {
	n := float64(len(train))
	for _, s := range train {
		for i, v := range s.X {
			m.Mean[i] += v / n
		}
	}
	for _, s := range train {
		for i, v := range s.X {
			d := v - m.Mean[i]
			m.Std[i] += d * d / n
		}
	}
	for i := range m.Std {
		m.Std[i] = math.Sqrt(m.Std[i])
		if m.Std[i] < 1e-9 {
			m.Std[i] = 1
		}
	}
}

func evaluate(m *Model, rows []Sample) Metrics {
	met := Metrics{ValidationSize: len(rows)}
	if len(rows) == 0 {
		return met
	}
	correct := 0
	var loss float64
	for _, s := range rows {
		p, _ := m.Predict(s.X)
		if (p >= 0.5) == (s.Y >= 0.5) {
			correct++
		}
		p = math.Min(math.Max(p, 1e-12), 1-1e-12)
		loss -= s.Y*math.Log(p) + (1-s.Y)*math.Log(1-p)
	}
	met.Accuracy = float64(correct) / float64(len(rows))
	met.LogLoss = loss / float64(len(rows))
	return met
}

// Gate rejects a model whose validation accuracy is below the configured
// minimum.
func Gate(metrics Metrics, cfg TrainConfig) error {
	if metrics.Accuracy < cfg.MinAccuracy {
		return fmt.Errorf("validation accuracy %.3f below %.3f: %w",
			metrics.Accuracy, cfg.MinAccuracy, util.ErrValidationFailed)
	}
	return nil
}
