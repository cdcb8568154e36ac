package fingerprint

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/franz/media-organizer/internal/meta"
	"github.com/franz/media-organizer/internal/util"
)

// minDecodedRatio is the share of the container duration that must decode
// before a file is considered intact.
const minDecodedRatio = 0.9

// FFmpegDecoder shells out to ffmpeg for every container ffmpeg can read.
// ffprobe is consulted first so unreadable headers are told apart from
// streams that break mid-way.
type FFmpegDecoder struct {
	FFmpegPath  string
	FFprobePath string
	SampleRate  int
	FPS         int
}

func (d *FFmpegDecoder) ffmpeg() string {
	if d.FFmpegPath == "" {
		return "ffmpeg"
	}
	return d.FFmpegPath
}

func (d *FFmpegDecoder) DecodeAudio(ctx context.Context, path string) (*PCM, error) {
	info, err := d.probe(ctx, path, "audio")
	if err != nil {
		return nil, err
	}

	rate := d.SampleRate
	if rate <= 0 {
		rate = AudioSampleRate
	}
	out, err := d.run(ctx, path,
		"-vn", "-f", "s16le", "-acodec", "pcm_s16le",
		"-ac", "1", "-ar", strconv.Itoa(rate), "-")
	if err != nil {
		return nil, err
	}

	samples := make([]float64, len(out)/2)
	for i := range samples {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(out[2*i:]))) / 32768
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s: no audio samples decoded: %w", path, util.ErrCorruptMedia)
	}

	pcm := &PCM{SampleRate: rate, Samples: samples}
	if want := info.DurationSeconds(); want > 0 && pcm.Duration() < minDecodedRatio*want {
		return nil, fmt.Errorf("%s: decoded %.1fs of %.1fs: %w", path, pcm.Duration(), want, util.ErrCorruptMedia)
	}
	return pcm, nil
}

func (d *FFmpegDecoder) DecodeVideo(ctx context.Context, path string) (*FrameSequence, error) {
	info, err := d.probe(ctx, path, "video")
	if err != nil {
		return nil, err
	}

	fps := d.FPS
	if fps <= 0 {
		fps = 1
	}
	out, err := d.run(ctx, path,
		"-an", "-vf", fmt.Sprintf("fps=%d,scale=%d:%d,format=gray", fps, dhashWidth, dhashHeight),
		"-f", "rawvideo", "-")
	if err != nil {
		return nil, err
	}

	frameSize := dhashWidth * dhashHeight
	seq := &FrameSequence{FPS: fps, Width: dhashWidth, Height: dhashHeight}
	for off := 0; off+frameSize <= len(out); off += frameSize {
		seq.Frames = append(seq.Frames, out[off:off+frameSize])
	}
	if len(seq.Frames) == 0 {
		return nil, fmt.Errorf("%s: no video frames decoded: %w", path, util.ErrCorruptMedia)
	}

	// One frame of slack: sampling at whole seconds rounds down.
	decoded := float64(len(seq.Frames)+1) / float64(fps)
	if want := info.DurationSeconds(); want > 0 && decoded < minDecodedRatio*want {
		return nil, fmt.Errorf("%s: decoded %.1fs of %.1fs: %w", path, decoded, want, util.ErrCorruptMedia)
	}
	return seq, nil
}

func (d *FFmpegDecoder) probe(ctx context.Context, path, stream string) (*meta.FFprobeInfo, error) {
	info, err := meta.RunFFprobe(ctx, d.FFprobePath, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, util.ErrUnsupportedFormat) {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, fmt.Errorf("%s: probe failed: %w", path, err)
	}
	if !info.HasStream(stream) {
		return nil, fmt.Errorf("%s: no %s stream: %w", path, stream, util.ErrUnsupportedFormat)
	}
	return info, nil
}

func (d *FFmpegDecoder) run(ctx context.Context, path string, outputArgs ...string) ([]byte, error) {
	args := append([]string{"-v", "error", "-nostdin", "-i", path}, outputArgs...)
	cmd := exec.CommandContext(ctx, d.ffmpeg(), args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s: ffmpeg: %s: %w", path, firstLine(stderr.String()), util.ErrCorruptMedia)
		}
		return nil, fmt.Errorf("ffmpeg execution failed: %w", err)
	}
	return stdout.Bytes(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
