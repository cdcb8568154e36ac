package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/franz/media-organizer/internal/util"
)

// FFprobeInfo represents the output from ffprobe
type FFprobeInfo struct {
	Streams []FFprobeStream `json:"streams"`
	Format  *FFprobeFormat  `json:"format"`
}

// FFprobeStream represents one audio or video stream
type FFprobeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Duration   string `json:"duration"`
}

// FFprobeFormat represents container format metadata
type FFprobeFormat struct {
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// DurationSeconds returns the container duration, or 0 when unknown.
func (i *FFprobeInfo) DurationSeconds() float64 {
	if i == nil || i.Format == nil {
		return 0
	}
	d, err := strconv.ParseFloat(i.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return d
}

// HasStream reports whether a stream of codecType ("audio", "video")
// exists.
func (i *FFprobeInfo) HasStream(codecType string) bool {
	if i == nil {
		return false
	}
	for _, s := range i.Streams {
		if s.CodecType == codecType {
			return true
		}
	}
	return false
}

// Tag looks up a format tag case-insensitively.
func (i *FFprobeInfo) Tag(name string) string {
	if i == nil || i.Format == nil {
		return ""
	}
	for k, v := range i.Format.Tags {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// RunFFprobe executes ffprobe and parses the JSON output. A file ffprobe
// cannot open at all is reported as ErrUnsupportedFormat.
func RunFFprobe(ctx context.Context, bin, path string) (*FFprobeInfo, error) {
	if bin == "" {
		bin = "ffprobe"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%s: %w", bin, util.ErrNotFound)
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: ffprobe: %s", util.ErrUnsupportedFormat, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe execution failed: %w", err)
	}

	var info FFprobeInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &info, nil
}

// CheckFFprobeAvailable checks if ffprobe is available in PATH
func CheckFFprobeAvailable(bin string) bool {
	if bin == "" {
		bin = "ffprobe"
	}
	_, err := exec.LookPath(bin)
	return err == nil
}
