// Package fingerprint derives acoustic and visual signatures from media
// files. Output is deterministic: the same file and algorithm version
// always produce byte-identical fingerprints.
package fingerprint

import (
	"context"
	"path/filepath"
	"strings"
)

// PCM is mono audio at a fixed sample rate, samples in [-1, 1].
type PCM struct {
	SampleRate int
	Samples    []float64
}

// Duration returns the length of the audio in seconds.
func (p *PCM) Duration() float64 {
	if p == nil || p.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// FrameSequence is greyscale video sampled at FPS frames per second.
// Each frame holds Width*Height luma bytes in row-major order.
type FrameSequence struct {
	FPS    int
	Width  int
	Height int
	Frames [][]byte
}

// Duration returns the length of the sequence in seconds.
func (s *FrameSequence) Duration() float64 {
	if s == nil || s.FPS == 0 {
		return 0
	}
	return float64(len(s.Frames)) / float64(s.FPS)
}

// Decoder turns a media file into raw samples or frames.
type Decoder interface {
	DecodeAudio(ctx context.Context, path string) (*PCM, error)
	DecodeVideo(ctx context.Context, path string) (*FrameSequence, error)
}

// AutoDecoder decodes WAV files natively and hands everything else to
// ffmpeg.
type AutoDecoder struct {
	WAV    *WAVDecoder
	FFmpeg *FFmpegDecoder
}

// NewAutoDecoder returns a decoder producing audio at AudioSampleRate and
// video at fps frames per second.
func NewAutoDecoder(ffmpegPath, ffprobePath string, fps int) *AutoDecoder {
	return &AutoDecoder{
		WAV: &WAVDecoder{SampleRate: AudioSampleRate},
		FFmpeg: &FFmpegDecoder{
			FFmpegPath:  ffmpegPath,
			FFprobePath: ffprobePath,
			SampleRate:  AudioSampleRate,
			FPS:         fps,
		},
	}
}

func (d *AutoDecoder) DecodeAudio(ctx context.Context, path string) (*PCM, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return d.WAV.DecodeAudio(ctx, path)
	}
	return d.FFmpeg.DecodeAudio(ctx, path)
}

func (d *AutoDecoder) DecodeVideo(ctx context.Context, path string) (*FrameSequence, error) {
	return d.FFmpeg.DecodeVideo(ctx, path)
}
