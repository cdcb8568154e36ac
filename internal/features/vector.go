// Package features turns raw extraction output and metadata into the
// fixed-layout numeric vectors the classifier consumes.
package features

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/franz/media-organizer/internal/fingerprint"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

// SchemaVersion is the vector layout produced by Vectorize.
const SchemaVersion = 1

// Slot names of schema version 1, in order.
var schemaV1 = []string{
	"log_duration",
	"rms_mean",
	"rms_std",
	"zcr",
	"centroid",
	"rolloff",
	"flatness",
	"log_fp_length",
	"is_video",
	"has_title",
	"has_artist",
	"has_album",
	"year",
	"luma_mean",
	"luma_std",
	"scene_change_rate",
}

// Length returns the vector length of a schema version, or 0 when the
// version is unknown.
func Length(version int) int {
	if version == 1 {
		return len(schemaV1)
	}
	return 0
}

// Names returns the slot names of a schema version.
func Names(version int) []string {
	if version == 1 {
		return append([]string(nil), schemaV1...)
	}
	return nil
}

// Vector is a versioned feature vector.
type Vector struct {
	SchemaVersion int       `json:"schema_version"`
	Values        []float64 `json:"values"`
}

// Check verifies v has the layout of schema version want.
func (v *Vector) Check(want int) error {
	if v == nil {
		return fmt.Errorf("nil feature vector: %w", util.ErrSchemaMismatch)
	}
	if v.SchemaVersion != want {
		return fmt.Errorf("feature schema %d, expected %d: %w", v.SchemaVersion, want, util.ErrSchemaMismatch)
	}
	if n := Length(want); n == 0 || len(v.Values) != n {
		return fmt.Errorf("feature vector length %d, schema %d expects %d: %w",
			len(v.Values), want, Length(want), util.ErrSchemaMismatch)
	}
	return nil
}

// Encode serializes v for storage.
func (v *Vector) Encode() (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode feature vector: %w", err)
	}
	return string(b), nil
}

// Decode parses a stored vector and checks it against schema version want.
func Decode(s string, want int) (*Vector, error) {
	var v Vector
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("failed to parse feature vector: %w", util.ErrSchemaMismatch)
	}
	if err := v.Check(want); err != nil {
		return nil, err
	}
	return &v, nil
}

const nyquist = fingerprint.AudioSampleRate / 2.0

// Vectorize builds a schema version 1 vector. md may be nil; absent inputs
// impute 0 and the has_* slots record what was present.
func Vectorize(raw *fingerprint.RawFeatures, md *store.Metadata) *Vector {
	values := make([]float64, len(schemaV1))
	if raw != nil {
		values[0] = math.Log1p(raw.DurationSec)
		values[1] = raw.RMSMean
		values[2] = raw.RMSStd
		values[3] = raw.ZeroCrossingRate
		values[4] = raw.SpectralCentroid / nyquist
		values[5] = raw.SpectralRolloff / nyquist
		values[6] = raw.SpectralFlatness
		values[7] = math.Log1p(float64(raw.FrameCount))
		if raw.Kind == string(store.KindVideo) {
			values[8] = 1
		}
		values[13] = raw.LumaMean / 255
		values[14] = raw.LumaStd / 255
		values[15] = raw.SceneChangeRate
	}
	if md != nil {
		values[9] = presence(md.Title)
		values[10] = presence(md.Artist)
		values[11] = presence(md.Album)
		if md.Year > 0 {
			values[12] = clamp((float64(md.Year)-1900)/150, 0, 1)
		}
	}
	for i, x := range values {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			values[i] = 0
		}
	}
	return &Vector{SchemaVersion: SchemaVersion, Values: values}
}

func presence(s string) float64 {
	if s == "" {
		return 0
	}
	return 1
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
