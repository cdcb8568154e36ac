package meta

import (
	"encoding/json"
	"testing"
)

func TestFFprobeInfoHelpers(t *testing.T) {
	raw := `{
		"streams": [
			{"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080},
			{"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "48000", "channels": 2}
		],
		"format": {
			"format_name": "mov,mp4,m4a,3gp,3g2,mj2",
			"duration": "215.480000",
			"tags": {"TITLE": "Azzurro", "artist": "Adriano Celentano", "date": "1968-05-01"}
		}
	}`

	var info FFprobeInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	if d := info.DurationSeconds(); d < 215.47 || d > 215.49 {
		t.Errorf("expected duration 215.48, got %v", d)
	}
	if !info.HasStream("video") || !info.HasStream("audio") || info.HasStream("subtitle") {
		t.Error("unexpected stream detection")
	}
	if info.Tag("title") != "Azzurro" {
		t.Errorf("expected case-insensitive tag lookup, got %q", info.Tag("title"))
	}

	tags := tagsFromProbe(&info)
	if tags.Year != 1968 || tags.Artist != "Adriano Celentano" {
		t.Errorf("unexpected tags %+v", tags)
	}
}

func TestDurationUnknown(t *testing.T) {
	var info *FFprobeInfo
	if info.DurationSeconds() != 0 {
		t.Error("expected 0 for nil info")
	}
}
