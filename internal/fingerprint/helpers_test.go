package fingerprint

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"testing"
)

// writeWAV writes samples (mono, repeated across channels) as a RIFF file.
func writeWAV(t *testing.T, path string, rate, channels, bitsPerSample, format int, samples []float64) {
	t.Helper()

	var data bytes.Buffer
	for _, s := range samples {
		for c := 0; c < channels; c++ {
			switch {
			case format == wavFormatFloat:
				binary.Write(&data, binary.LittleEndian, float32(s))
			case bitsPerSample == 8:
				data.WriteByte(byte(int(s*127) + 128))
			case bitsPerSample == 16:
				binary.Write(&data, binary.LittleEndian, int16(s*32767))
			case bitsPerSample == 24:
				v := int32(s * 8388607)
				data.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16)})
			default:
				binary.Write(&data, binary.LittleEndian, int32(s*2147483647))
			}
		}
	}

	blockAlign := channels * bitsPerSample / 8
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+data.Len()))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(format))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(data.Len()))
	buf.Write(data.Bytes())

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write WAV: %v", err)
	}
}

func sine(freq float64, rate int, seconds float64, amp float64) []float64 {
	out := make([]float64, int(float64(rate)*seconds))
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

// noise is a deterministic pseudo-random signal in [-amp, amp].
func noise(n int, seed uint32, amp float64) []float64 {
	out := make([]float64, n)
	x := seed
	for i := range out {
		x = x*1664525 + 1013904223
		out[i] = amp * (float64(x)/float64(math.MaxUint32)*2 - 1)
	}
	return out
}
