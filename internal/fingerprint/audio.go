package fingerprint

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"sync"

	"github.com/franz/media-organizer/internal/util"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Audio fingerprint parameters (hk-audio, version 1). Changing any of them
// requires a new AudioVersion.
const (
	AudioAlgorithm  = "hk-audio"
	AudioVersion    = 1
	AudioSampleRate = 11025

	audioFrameSize = 2048
	audioHopSize   = 512
	audioBands     = 33
	audioMinFreq   = 300.0
	audioMaxFreq   = 2000.0
	rolloffShare   = 0.85

	// analysis checks its context every cancelCheckFrames frames
	cancelCheckFrames = 256
)

// FrameDurationMs is the time covered by one sub-fingerprint.
const FrameDurationMs = 1000.0 * audioHopSize / AudioSampleRate

// AudioFeatures are low-level descriptors computed alongside the audio
// fingerprint.
type AudioFeatures struct {
	RMSMean          float64
	RMSStd           float64
	ZeroCrossingRate float64
	SpectralCentroid float64 // Hz
	SpectralRolloff  float64 // Hz
	SpectralFlatness float64
}

type audioAnalyzer struct {
	window []float64
	bandLo []int
	bandHi []int

	// *fourier.FFT plans keep work buffers and are not safe for
	// concurrent use.
	plans sync.Pool
}

var (
	analyzerOnce sync.Once
	analyzer     *audioAnalyzer
)

func getAnalyzer() *audioAnalyzer {
	analyzerOnce.Do(func() {
		a := &audioAnalyzer{
			window: make([]float64, audioFrameSize),
			bandLo: make([]int, audioBands),
			bandHi: make([]int, audioBands),
		}
		a.plans.New = func() any { return fourier.NewFFT(audioFrameSize) }
		for i := range a.window {
			a.window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(audioFrameSize-1))
		}

		binHz := float64(AudioSampleRate) / audioFrameSize
		ratio := math.Pow(audioMaxFreq/audioMinFreq, 1.0/audioBands)
		for b := 0; b < audioBands; b++ {
			lo := audioMinFreq * math.Pow(ratio, float64(b))
			hi := lo * ratio
			a.bandLo[b] = int(math.Round(lo / binHz))
			a.bandHi[b] = int(math.Round(hi / binHz))
			if a.bandHi[b] <= a.bandLo[b] {
				a.bandHi[b] = a.bandLo[b] + 1
			}
		}
		analyzer = a
	})
	return analyzer
}

// powerSpectrum fills power[0..n/2] with |X[k]|^2 of frame. coeffs is
// reused between calls and returned.
func powerSpectrum(plan *fourier.FFT, frame []float64, coeffs []complex128, power []float64) []complex128 {
	coeffs = plan.Coefficients(coeffs, frame)
	for k, c := range coeffs {
		power[k] = real(c)*real(c) + imag(c)*imag(c)
	}
	return coeffs
}

// AnalyzeAudio computes the Haitsma-Kalker style sub-fingerprints of pcm
// (one 32-bit word per hop after the first frame) and the descriptive
// features. pcm must be sampled at AudioSampleRate. It stops with the
// context error once ctx is done.
func AnalyzeAudio(ctx context.Context, pcm []float64) ([]uint32, AudioFeatures, error) {
	a := getAnalyzer()
	plan := a.plans.Get().(*fourier.FFT)
	defer a.plans.Put(plan)

	signal := pcm
	if minLen := audioFrameSize + audioHopSize; len(signal) < minLen {
		signal = make([]float64, minLen)
		copy(signal, pcm)
	}
	frames := 1 + (len(signal)-audioFrameSize)/audioHopSize

	frame := make([]float64, audioFrameSize)
	coeffs := make([]complex128, audioFrameSize/2+1)
	power := make([]float64, audioFrameSize/2+1)
	prev := make([]float64, audioBands)
	cur := make([]float64, audioBands)

	subs := make([]uint32, 0, frames-1)
	rms := make([]float64, 0, frames)
	var centroidSum, rolloffSum, flatnessSum float64
	var spectralFrames int
	binHz := float64(AudioSampleRate) / audioFrameSize

	for n := 0; n < frames; n++ {
		if n%cancelCheckFrames == 0 {
			if err := ctx.Err(); err != nil {
				return nil, AudioFeatures{}, err
			}
		}
		start := n * audioHopSize
		var energy float64
		for i := 0; i < audioFrameSize; i++ {
			s := signal[start+i]
			energy += s * s
			frame[i] = s * a.window[i]
		}
		rms = append(rms, math.Sqrt(energy/audioFrameSize))

		coeffs = powerSpectrum(plan, frame, coeffs, power)

		for b := 0; b < audioBands; b++ {
			var e float64
			for k := a.bandLo[b]; k < a.bandHi[b] && k < len(power); k++ {
				e += power[k]
			}
			cur[b] = e
		}
		if n > 0 {
			var word uint32
			for b := 0; b < audioBands-1; b++ {
				d := (cur[b] - cur[b+1]) - (prev[b] - prev[b+1])
				if d > 0 {
					word |= 1 << uint(b)
				}
			}
			subs = append(subs, word)
		}
		prev, cur = cur, prev

		if c, r, f, ok := spectralShape(power, binHz); ok {
			centroidSum += c
			rolloffSum += r
			flatnessSum += f
			spectralFrames++
		}
	}

	var feats AudioFeatures
	feats.RMSMean, feats.RMSStd = meanStd(rms)
	feats.ZeroCrossingRate = zeroCrossingRate(pcm)
	if spectralFrames > 0 {
		feats.SpectralCentroid = centroidSum / float64(spectralFrames)
		feats.SpectralRolloff = rolloffSum / float64(spectralFrames)
		feats.SpectralFlatness = flatnessSum / float64(spectralFrames)
	}
	return subs, feats, nil
}

// spectralShape returns centroid, roll-off and flatness of one power
// spectrum. Silent frames report ok=false.
func spectralShape(power []float64, binHz float64) (centroid, rolloff, flatness float64, ok bool) {
	var total, weighted, logSum float64
	for k, p := range power {
		total += p
		weighted += float64(k) * binHz * p
		logSum += math.Log(p + 1e-12)
	}
	if total <= 1e-12 {
		return 0, 0, 0, false
	}
	centroid = weighted / total

	threshold := rolloffShare * total
	var cum float64
	for k, p := range power {
		cum += p
		if cum >= threshold {
			rolloff = float64(k) * binHz
			break
		}
	}

	n := float64(len(power))
	flatness = math.Exp(logSum/n) / (total/n + 1e-12)
	return centroid, rolloff, flatness, true
}

func zeroCrossingRate(pcm []float64) float64 {
	if len(pcm) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(pcm); i++ {
		if (pcm[i-1] >= 0) != (pcm[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(pcm)-1)
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(std / float64(len(values)))
}

// EncodeAudio serializes sub-fingerprints as little-endian uint32 words.
func EncodeAudio(subs []uint32) []byte {
	out := make([]byte, 4*len(subs))
	for i, w := range subs {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

// ParseAudio parses a blob produced by EncodeAudio.
func ParseAudio(blob []byte) ([]uint32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("audio fingerprint blob of %d bytes: %w", len(blob), util.ErrCorruptMedia)
	}
	out := make([]uint32, len(blob)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(blob[4*i:])
	}
	return out, nil
}

// BitErrorRate compares two aligned sub-fingerprint runs of equal length.
func BitErrorRate(a, b []uint32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 1
	}
	errs := 0
	for i := 0; i < n; i++ {
		errs += bits.OnesCount32(a[i] ^ b[i])
	}
	return float64(errs) / float64(32*n)
}
