// Package meta reads descriptive metadata embedded in media containers and
// normalizes it for comparison against the catalog.
package meta

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

// Quality assigned to each metadata source. Higher-quality sources
// overwrite lower ones in the store.
const (
	QualityContainerTags = 0.5
	QualityFilenameMax   = 0.4
)

// Tags is the descriptive metadata found in or next to a file.
type Tags struct {
	Title    string
	Artist   string
	Album    string
	Genre    string
	Language string
	Country  string
	Year     int
	Source   string
	Quality  float64
}

// Empty reports whether no descriptive field was found.
func (t *Tags) Empty() bool {
	return t == nil || (t.Title == "" && t.Artist == "" && t.Album == "" && t.Genre == "")
}

// Metadata converts t into a store row for fileID.
func (t *Tags) Metadata(fileID int64) *store.Metadata {
	return &store.Metadata{
		MediaFileID: fileID,
		Title:       t.Title,
		Artist:      t.Artist,
		Album:       t.Album,
		Year:        t.Year,
		Genre:       t.Genre,
		Country:     t.Country,
		Language:    t.Language,
		Source:      t.Source,
		Quality:     t.Quality,
	}
}

// TagReader extracts container tags. Audio goes through dhowden/tag first,
// video and untagged audio fall back to ffprobe format tags, and the file
// name is the last resort.
type TagReader struct {
	FFprobePath string
}

// Read never fails for missing tags; it returns the best hints available.
// Only context cancellation is reported as an error.
func (r *TagReader) Read(ctx context.Context, path string, kind store.Kind) (*Tags, error) {
	if kind == store.KindAudio {
		t, err := readEmbeddedTags(path)
		if err == nil && !t.Empty() {
			return t, nil
		}
		if err != nil {
			util.DebugLog("No embedded tags in %s: %v", path, err)
		}
	}

	info, err := RunFFprobe(ctx, r.FFprobePath, path)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err == nil {
		if t := tagsFromProbe(info); !t.Empty() {
			return t, nil
		}
	} else {
		util.DebugLog("ffprobe tags unavailable for %s: %v", path, err)
	}

	fm := ParseFilename(path)
	return &Tags{
		Title:   fm.Title,
		Artist:  fm.Artist,
		Source:  store.SourceFilename,
		Quality: fm.Confidence * QualityFilenameMax,
	}, nil
}

func readEmbeddedTags(path string) (*Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, err
	}

	t := &Tags{
		Title:   CleanString(m.Title()),
		Artist:  CleanString(m.Artist()),
		Album:   CleanString(m.Album()),
		Genre:   CleanString(m.Genre()),
		Year:    m.Year(),
		Source:  store.SourceContainerTags,
		Quality: QualityContainerTags,
	}
	if t.Artist == "" {
		t.Artist = CleanString(m.AlbumArtist())
	}
	for _, key := range []string{"TLAN", "LANGUAGE", "language", "©lan"} {
		if v, ok := m.Raw()[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				t.Language = strings.ToLower(strings.TrimSpace(s))
				break
			}
		}
	}
	return t, nil
}

func tagsFromProbe(info *FFprobeInfo) *Tags {
	t := &Tags{
		Title:    CleanString(info.Tag("title")),
		Artist:   CleanString(firstNonEmpty(info.Tag("artist"), info.Tag("album_artist"))),
		Album:    CleanString(info.Tag("album")),
		Genre:    CleanString(info.Tag("genre")),
		Language: strings.ToLower(info.Tag("language")),
		Country:  strings.ToUpper(firstNonEmpty(info.Tag("country"), info.Tag("releasecountry"))),
		Source:   store.SourceContainerTags,
		Quality:  QualityContainerTags,
	}
	if date := firstNonEmpty(info.Tag("date"), info.Tag("year")); len(date) >= 4 {
		t.Year, _ = strconv.Atoi(date[:4])
	}
	return t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
