package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

// RawFeatures are the descriptors the vectorizer consumes. Fields that do
// not apply to the media kind stay zero.
type RawFeatures struct {
	Kind             string  `json:"kind"`
	DurationSec      float64 `json:"duration_sec"`
	SampleRate       int     `json:"sample_rate,omitempty"`
	FrameCount       int     `json:"frame_count"`
	RMSMean          float64 `json:"rms_mean"`
	RMSStd           float64 `json:"rms_std"`
	ZeroCrossingRate float64 `json:"zcr"`
	SpectralCentroid float64 `json:"spectral_centroid"`
	SpectralRolloff  float64 `json:"spectral_rolloff"`
	SpectralFlatness float64 `json:"spectral_flatness"`
	LumaMean         float64 `json:"luma_mean"`
	LumaStd          float64 `json:"luma_std"`
	SceneChangeRate  float64 `json:"scene_change_rate"`
}

// ParseRawFeatures decodes the JSON stored next to a fingerprint.
func ParseRawFeatures(s string) (*RawFeatures, error) {
	var f RawFeatures
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return nil, fmt.Errorf("failed to parse raw features: %w", err)
	}
	return &f, nil
}

// Result is the output of one extraction.
type Result struct {
	Algorithm  string
	Version    int
	Blob       []byte
	DurationMs int64
	FrameCount int
	Features   RawFeatures
}

// Fingerprint converts r into a store row for fileID.
func (r *Result) Fingerprint(fileID int64) (*store.Fingerprint, error) {
	feats, err := json.Marshal(r.Features)
	if err != nil {
		return nil, fmt.Errorf("failed to encode raw features: %w", err)
	}
	return &store.Fingerprint{
		MediaFileID:      fileID,
		Algorithm:        r.Algorithm,
		AlgorithmVersion: r.Version,
		Blob:             r.Blob,
		BlobSHA256:       util.BytesHash(r.Blob),
		DurationMs:       r.DurationMs,
		FrameCount:       r.FrameCount,
		FeaturesJSON:     string(feats),
	}, nil
}

// AlgorithmFor returns the fingerprint algorithm and version used for kind.
func AlgorithmFor(kind store.Kind) (string, int) {
	if kind == store.KindVideo {
		return VideoAlgorithm, VideoVersion
	}
	return AudioAlgorithm, AudioVersion
}

// Extractor produces fingerprints and raw features for media files.
type Extractor struct {
	Decoder Decoder
}

// NewExtractor returns an Extractor using dec.
func NewExtractor(dec Decoder) *Extractor {
	return &Extractor{Decoder: dec}
}

// Extract fingerprints the file at path. A context deadline is reported as
// ErrExtractionTimeout; cancellation is returned unchanged so the caller
// can leave the file where it was.
func (e *Extractor) Extract(ctx context.Context, path string, kind store.Kind) (*Result, error) {
	var res *Result
	var err error
	switch kind {
	case store.KindAudio:
		res, err = e.extractAudio(ctx, path)
	case store.KindVideo:
		res, err = e.extractVideo(ctx, path)
	default:
		return nil, fmt.Errorf("%s: media kind %q: %w", path, kind, util.ErrUnsupportedFormat)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", path, util.ErrExtractionTimeout)
		}
		return nil, err
	}
	return res, nil
}

func (e *Extractor) extractAudio(ctx context.Context, path string) (*Result, error) {
	pcm, err := e.Decoder.DecodeAudio(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(pcm.Samples) == 0 {
		return nil, fmt.Errorf("%s: no audio samples: %w", path, util.ErrCorruptMedia)
	}
	if pcm.SampleRate != AudioSampleRate {
		pcm = &PCM{SampleRate: AudioSampleRate, Samples: resample(pcm.Samples, pcm.SampleRate, AudioSampleRate)}
	}
	subs, af, err := AnalyzeAudio(ctx, pcm.Samples)
	if err != nil {
		return nil, err
	}
	// analysis may finish just past the deadline
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Algorithm:  AudioAlgorithm,
		Version:    AudioVersion,
		Blob:       EncodeAudio(subs),
		DurationMs: int64(pcm.Duration() * 1000),
		FrameCount: len(subs),
		Features: RawFeatures{
			Kind:             string(store.KindAudio),
			DurationSec:      pcm.Duration(),
			SampleRate:       pcm.SampleRate,
			FrameCount:       len(subs),
			RMSMean:          af.RMSMean,
			RMSStd:           af.RMSStd,
			ZeroCrossingRate: af.ZeroCrossingRate,
			SpectralCentroid: af.SpectralCentroid,
			SpectralRolloff:  af.SpectralRolloff,
			SpectralFlatness: af.SpectralFlatness,
		},
	}, nil
}

func (e *Extractor) extractVideo(ctx context.Context, path string) (*Result, error) {
	seq, err := e.Decoder.DecodeVideo(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(seq.Frames) == 0 {
		return nil, fmt.Errorf("%s: no video frames: %w", path, util.ErrCorruptMedia)
	}
	for i, f := range seq.Frames {
		if len(f) != seq.Width*seq.Height {
			return nil, fmt.Errorf("%s: frame %d has %d bytes, want %d: %w",
				path, i, len(f), seq.Width*seq.Height, util.ErrCorruptMedia)
		}
	}

	hashes, vf, err := AnalyzeVideo(ctx, seq)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Algorithm:  VideoAlgorithm,
		Version:    VideoVersion,
		Blob:       EncodeVideo(hashes),
		DurationMs: int64(seq.Duration() * 1000),
		FrameCount: len(hashes),
		Features: RawFeatures{
			Kind:            string(store.KindVideo),
			DurationSec:     seq.Duration(),
			FrameCount:      len(hashes),
			LumaMean:        vf.LumaMean,
			LumaStd:         vf.LumaStd,
			SceneChangeRate: vf.SceneChangeRate,
		},
	}, nil
}
