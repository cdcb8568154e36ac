// Package score turns feature vectors and match candidates into a
// confidence score: a versioned logistic-regression classifier followed by
// a bounded domain boost.
package score

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/franz/media-organizer/internal/features"
	"github.com/franz/media-organizer/internal/util"
)

// Model is a standardized logistic regression over the feature vector
// followed by the match signals.
type Model struct {
	SchemaVersion int       `json:"schema_version"`
	Weights       []float64 `json:"weights"`
	Bias          float64   `json:"bias"`
	Mean          []float64 `json:"mean"`
	Std           []float64 `json:"std"`
}

// InputDim is the classifier input length for a feature schema version.
func InputDim(schemaVersion int) int {
	return features.Length(schemaVersion) + SignalCount
}

// Validate checks the parameter shapes.
func (m *Model) Validate() error {
	n := InputDim(m.SchemaVersion)
	if n == SignalCount {
		return fmt.Errorf("model for unknown feature schema %d: %w", m.SchemaVersion, util.ErrSchemaMismatch)
	}
	if len(m.Weights) != n || len(m.Mean) != n || len(m.Std) != n {
		return fmt.Errorf("model parameters have %d/%d/%d entries, want %d: %w",
			len(m.Weights), len(m.Mean), len(m.Std), n, util.ErrSchemaMismatch)
	}
	return nil
}

// Predict returns the probability that the best candidate is the correct
// identification.
func (m *Model) Predict(x []float64) (float64, error) {
	if len(x) != len(m.Weights) {
		return 0, fmt.Errorf("input of %d values, model expects %d: %w", len(x), len(m.Weights), util.ErrSchemaMismatch)
	}
	return sigmoid(m.logit(x)), nil
}

func (m *Model) logit(x []float64) float64 {
	z := m.Bias
	for i, v := range x {
		std := m.Std[i]
		if std == 0 {
			std = 1
		}
		z += m.Weights[i] * (v - m.Mean[i]) / std
	}
	return z
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Encode serializes the parameters for storage.
func (m *Model) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode model: %w", err)
	}
	return string(b), nil
}

// DecodeModel parses stored parameters.
func DecodeModel(s string) (*Model, error) {
	var m Model
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to parse model parameters: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// PriorModel is the hand-set model used before any feedback exists. It
// trusts the best similarity, a clear margin over the runner-up, and
// metadata agreement; media descriptors carry no weight.
func PriorModel() *Model {
	n := InputDim(features.SchemaVersion)
	m := &Model{
		SchemaVersion: features.SchemaVersion,
		Weights:       make([]float64, n),
		Bias:          -2.5,
		Mean:          make([]float64, n),
		Std:           make([]float64, n),
	}
	for i := range m.Std {
		m.Std[i] = 1
	}
	base := features.Length(features.SchemaVersion)
	m.Weights[base+signalTop1] = 4
	m.Weights[base+signalMargin] = 1.5
	m.Weights[base+signalCorroboration] = 1.5
	return m
}
