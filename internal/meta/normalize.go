package meta

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hbollon/go-edlib"
	"golang.org/x/text/unicode/norm"
)

// DefaultCorroborationSimilarity is the Jaro-Winkler similarity at which a
// title or artist counts as agreeing.
const DefaultCorroborationSimilarity = 0.9

var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	versionSuffixRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s*\([^)]*?(remix|live|acoustic|demo|instrumental|radio|edit|extended|version|mix|remaster|deluxe|bonus|edition|unplugged|session|versione|dal vivo).*?\)`),
		regexp.MustCompile(`(?i)\s*\[[^\]]*?(remix|live|acoustic|demo|instrumental|radio|edit|extended|version|mix|remaster|deluxe|bonus|edition|unplugged|session|versione|dal vivo).*?\]`),
		regexp.MustCompile(`(?i)\s+(remastered|remix|live|acoustic|demo|instrumental|unplugged)$`),
	}

	punctuationReplacer = strings.NewReplacer(
		".", "",
		",", "",
		"!", "",
		"?", "",
		"'", "",
		"’", "",
		"\"", "",
		":", "",
		";", "",
		"-", " ",
		"_", " ",
		"&", "and",
		"/", "",
	)
)

// NormalizeArtist normalizes an artist name for comparison
func NormalizeArtist(artist string) string {
	if artist == "" {
		return ""
	}
	artist = strings.ToLower(strings.TrimSpace(norm.NFC.String(artist)))

	// "Artist, The" -> "the artist"
	if strings.HasSuffix(artist, ", the") {
		artist = "the " + strings.TrimSuffix(artist, ", the")
	}
	return collapseWhitespace(punctuationReplacer.Replace(artist))
}

// NormalizeTitle normalizes a title for comparison. Version suffixes
// ("(Live)", "[2011 Remaster]") are dropped so variants corroborate.
func NormalizeTitle(title string) string {
	if title == "" {
		return ""
	}
	title = strings.ToLower(strings.TrimSpace(norm.NFC.String(title)))
	for _, re := range versionSuffixRes {
		title = strings.TrimSpace(re.ReplaceAllString(title, ""))
	}
	return collapseWhitespace(punctuationReplacer.Replace(title))
}

// CleanString performs basic string cleaning (Unicode, trim, collapse)
func CleanString(s string) string {
	if s == "" {
		return ""
	}
	return collapseWhitespace(norm.NFC.String(s))
}

// FoldAccents lowercases s and strips combining marks, so "Perché" and
// "perche" compare equal.
func FoldAccents(s string) string {
	decomposed := norm.NFD.String(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return norm.NFC.String(b.String())
}

// Words splits text into accent-folded lowercase words.
func Words(s string) []string {
	return strings.FieldsFunc(FoldAccents(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Corroboration counts how many of title and artist agree between a
// file's metadata and a catalog work (0, 1 or 2). Fields are normalized and
// accent-folded, then compared by Jaro-Winkler similarity against
// minSimilarity; a non-positive minSimilarity uses the default. Empty
// fields never agree.
func Corroboration(fileTitle, fileArtist, workTitle, workArtist string, minSimilarity float64) int {
	if minSimilarity <= 0 {
		minSimilarity = DefaultCorroborationSimilarity
	}
	n := 0
	if agrees(NormalizeTitle(fileTitle), NormalizeTitle(workTitle), minSimilarity) {
		n++
	}
	if agrees(NormalizeArtist(fileArtist), NormalizeArtist(workArtist), minSimilarity) {
		n++
	}
	return n
}

func agrees(a, b string, minSimilarity float64) bool {
	if a == "" || b == "" {
		return false
	}
	a, b = FoldAccents(a), FoldAccents(b)
	if a == b {
		return true
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.JaroWinkler)
	if err != nil {
		return false
	}
	return float64(sim) >= minSimilarity
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
