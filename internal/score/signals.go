package score

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/franz/media-organizer/internal/match"
)

// Layout of the signal block appended to the feature vector.
const (
	signalTop1 = iota
	signalTop2
	signalTop3
	signalMargin
	signalCorroboration
	signalCandidates

	SignalCount = 6
)

// Signals summarize the ranked candidates for the classifier.
type Signals struct {
	Top           [3]float64 `json:"top"`
	Margin        float64    `json:"margin"`
	Corroboration float64    `json:"corroboration"`
	Candidates    int        `json:"candidates"`
}

// SignalsFrom derives the signals of a match result. A nil result or no
// candidates yields all zeros.
func SignalsFrom(res *match.Result) Signals {
	var s Signals
	if res == nil {
		return s
	}
	for i := 0; i < len(s.Top) && i < len(res.Candidates); i++ {
		s.Top[i] = res.Candidates[i].Similarity
	}
	s.Margin = s.Top[0] - s.Top[1]
	if best := res.Best(); best != nil {
		s.Corroboration = float64(best.Corroboration) / 2
	}
	s.Candidates = len(res.Candidates)
	return s
}

// Values returns the signals in classifier input order.
func (s Signals) Values() []float64 {
	v := make([]float64, SignalCount)
	v[signalTop1] = s.Top[0]
	v[signalTop2] = s.Top[1]
	v[signalTop3] = s.Top[2]
	v[signalMargin] = s.Margin
	v[signalCorroboration] = s.Corroboration
	v[signalCandidates] = math.Log1p(float64(s.Candidates))
	return v
}

// Encode serializes the signals for storage.
func (s Signals) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode signals: %w", err)
	}
	return string(b), nil
}

// DecodeSignals parses stored signals.
func DecodeSignals(str string) (Signals, error) {
	var s Signals
	if err := json.Unmarshal([]byte(str), &s); err != nil {
		return s, fmt.Errorf("failed to parse signals: %w", err)
	}
	return s, nil
}
