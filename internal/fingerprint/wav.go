package fingerprint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/franz/media-organizer/internal/util"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE

	// Streaming writers leave the data size unset.
	wavSizeUnknown = 0xFFFFFFFF

	wavReadFrames = 4096
	maxFmtChunk   = 1 << 10
)

// WAVDecoder reads RIFF/WAVE files without external tools. Integer PCM of
// 8, 16, 24 and 32 bits and IEEE float of 32 and 64 bits are supported.
type WAVDecoder struct {
	SampleRate int
}

type wavFormat struct {
	audioFormat   uint16
	channels      int
	sampleRate    int
	blockAlign    int
	bitsPerSample int
}

func (d *WAVDecoder) DecodeAudio(ctx context.Context, path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	format, data, size, err := readWAVHeader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	samples, err := decodeSamples(ctx, format, data, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s: no audio samples: %w", path, util.ErrCorruptMedia)
	}

	rate := d.SampleRate
	if rate <= 0 {
		rate = AudioSampleRate
	}
	return &PCM{SampleRate: rate, Samples: resample(samples, format.sampleRate, rate)}, nil
}

func (d *WAVDecoder) DecodeVideo(ctx context.Context, path string) (*FrameSequence, error) {
	return nil, fmt.Errorf("%s: WAV has no video stream: %w", path, util.ErrUnsupportedFormat)
}

// readWAVHeader walks the chunk list up to the data chunk and returns a
// reader positioned at its payload. size is -1 when the writer left it unset.
func readWAVHeader(r io.Reader) (*wavFormat, io.Reader, int64, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil || string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, nil, 0, fmt.Errorf("not a RIFF/WAVE file: %w", util.ErrUnsupportedFormat)
	}

	var format *wavFormat
	var early []byte
	earlyFound := false

chunks:
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			break
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size > maxFmtChunk {
				return nil, nil, 0, fmt.Errorf("fmt chunk of %d bytes: %w", size, util.ErrUnsupportedFormat)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, nil, 0, fmt.Errorf("fmt chunk truncated: %w", util.ErrCorruptMedia)
			}
			f, err := parseFmtChunk(body)
			if err != nil {
				return nil, nil, 0, err
			}
			format = f
			if earlyFound {
				return format, bytes.NewReader(early), int64(len(early)), nil
			}
		case "data":
			if format != nil {
				if size == wavSizeUnknown {
					return format, r, -1, nil
				}
				return format, io.LimitReader(r, int64(size)), int64(size), nil
			}
			// data ahead of fmt has to be held until the layout is known
			if size == wavSizeUnknown {
				return nil, nil, 0, fmt.Errorf("missing fmt chunk: %w", util.ErrUnsupportedFormat)
			}
			body, err := io.ReadAll(io.LimitReader(r, int64(size)))
			if err != nil {
				return nil, nil, 0, fmt.Errorf("failed to read data chunk: %w", err)
			}
			if int64(len(body)) < int64(size) {
				return nil, nil, 0, fmt.Errorf("data chunk declares %d bytes, only %d present: %w",
					size, len(body), util.ErrCorruptMedia)
			}
			early, earlyFound = body, true
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				break chunks
			}
		}
		if size%2 == 1 {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil {
				break
			}
		}
	}

	if format == nil {
		return nil, nil, 0, fmt.Errorf("missing fmt chunk: %w", util.ErrUnsupportedFormat)
	}
	return nil, nil, 0, fmt.Errorf("missing data chunk: %w", util.ErrCorruptMedia)
}

func parseFmtChunk(b []byte) (*wavFormat, error) {
	if len(b) < 16 {
		return nil, fmt.Errorf("fmt chunk too short: %w", util.ErrUnsupportedFormat)
	}
	f := &wavFormat{
		audioFormat:   binary.LittleEndian.Uint16(b[0:2]),
		channels:      int(binary.LittleEndian.Uint16(b[2:4])),
		sampleRate:    int(binary.LittleEndian.Uint32(b[4:8])),
		blockAlign:    int(binary.LittleEndian.Uint16(b[12:14])),
		bitsPerSample: int(binary.LittleEndian.Uint16(b[14:16])),
	}
	if f.audioFormat == wavFormatExtensible {
		if len(b) < 26 {
			return nil, fmt.Errorf("extensible fmt chunk too short: %w", util.ErrUnsupportedFormat)
		}
		f.audioFormat = binary.LittleEndian.Uint16(b[24:26])
	}

	if f.channels < 1 || f.sampleRate < 1 {
		return nil, fmt.Errorf("invalid channel count or sample rate: %w", util.ErrUnsupportedFormat)
	}
	switch {
	case f.audioFormat == wavFormatPCM && (f.bitsPerSample == 8 || f.bitsPerSample == 16 ||
		f.bitsPerSample == 24 || f.bitsPerSample == 32):
	case f.audioFormat == wavFormatFloat && (f.bitsPerSample == 32 || f.bitsPerSample == 64):
	default:
		return nil, fmt.Errorf("format %d with %d bits: %w", f.audioFormat, f.bitsPerSample, util.ErrUnsupportedFormat)
	}
	if f.blockAlign != f.channels*f.bitsPerSample/8 {
		return nil, fmt.Errorf("block align %d does not match layout: %w", f.blockAlign, util.ErrUnsupportedFormat)
	}
	return f, nil
}

// decodeSamples converts interleaved frames to mono by averaging channels.
// The payload is read wavReadFrames at a time with a context check between
// reads.
func decodeSamples(ctx context.Context, f *wavFormat, r io.Reader, size int64) ([]float64, error) {
	if size >= 0 && size%int64(f.blockAlign) != 0 {
		return nil, fmt.Errorf("data chunk of %d bytes is not a whole number of %d-byte frames: %w",
			size, f.blockAlign, util.ErrCorruptMedia)
	}

	width := f.bitsPerSample / 8
	buf := make([]byte, wavReadFrames*f.blockAlign)
	var out []float64
	var read int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := io.ReadFull(r, buf)
		read += int64(n)
		if n%f.blockAlign != 0 {
			return nil, fmt.Errorf("data ends inside a %d-byte frame: %w", f.blockAlign, util.ErrCorruptMedia)
		}
		for off := 0; off < n; off += f.blockAlign {
			frame := buf[off : off+f.blockAlign]
			var sum float64
			for c := 0; c < f.channels; c++ {
				sum += sampleAt(f, frame[c*width:(c+1)*width])
			}
			out = append(out, sum/float64(f.channels))
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read data chunk: %w", err)
		}
	}

	if size >= 0 && read < size {
		return nil, fmt.Errorf("data chunk declares %d bytes, only %d present: %w",
			size, read, util.ErrCorruptMedia)
	}
	return out, nil
}

func sampleAt(f *wavFormat, b []byte) float64 {
	if f.audioFormat == wavFormatFloat {
		if f.bitsPerSample == 64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	switch f.bitsPerSample {
	case 8:
		return (float64(b[0]) - 128) / 128
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
		return float64(v) / 8388608
	default:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	}
}

// resample converts between rates by linear interpolation.
func resample(in []float64, from, to int) []float64 {
	if from == to || len(in) == 0 {
		return in
	}
	n := int(float64(len(in)) * float64(to) / float64(from))
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
