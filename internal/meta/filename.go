package meta

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// FilenameMeta holds metadata parsed from a file name
type FilenameMeta struct {
	Artist     string
	Title      string
	Track      int
	Confidence float64 // 0.0-1.0 how confident we are in the parse
}

var filenamePatterns = []struct {
	re         *regexp.Regexp
	parse      func(*FilenameMeta, []string)
	confidence float64
}{
	{
		// "01 - Artist - Title"
		re: regexp.MustCompile(`^(\d+)\s*[-_.]\s*(.+?)\s+-\s+(.+)$`),
		parse: func(m *FilenameMeta, matches []string) {
			m.Track, _ = strconv.Atoi(matches[1])
			m.Artist = strings.TrimSpace(matches[2])
			m.Title = strings.TrimSpace(matches[3])
		},
		confidence: 0.8,
	},
	{
		// "01 - Title"
		re: regexp.MustCompile(`^(\d+)\s*[-_.]\s*(.+)$`),
		parse: func(m *FilenameMeta, matches []string) {
			m.Track, _ = strconv.Atoi(matches[1])
			m.Title = strings.TrimSpace(matches[2])
		},
		confidence: 0.6,
	},
	{
		// "Artist - Title"
		re: regexp.MustCompile(`^(.+?)\s+-\s+(.+)$`),
		parse: func(m *FilenameMeta, matches []string) {
			m.Artist = strings.TrimSpace(matches[1])
			m.Title = strings.TrimSpace(matches[2])
		},
		confidence: 0.5,
	},
}

// ParseFilename extracts artist/title hints from a file name. It is the
// fallback when a container carries no tags.
func ParseFilename(path string) *FilenameMeta {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.ReplaceAll(name, "_", " ")

	m := &FilenameMeta{}
	for _, p := range filenamePatterns {
		if matches := p.re.FindStringSubmatch(name); matches != nil {
			p.parse(m, matches)
			m.Confidence = p.confidence
			break
		}
	}
	if m.Title == "" {
		m.Title = CleanString(name)
		m.Confidence = 0.2
	}
	return m
}
