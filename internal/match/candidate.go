package match

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/franz/media-organizer/internal/store"
)

// Outcome of a match attempt. No candidates is a normal result.
type Outcome string

const (
	OutcomeMatched      Outcome = "matched"
	OutcomeNoCandidates Outcome = "no_candidates"
)

// Span locates a partial match inside the reference work.
type Span struct {
	StartMs  int64   `json:"start_ms"`
	EndMs    int64   `json:"end_ms"`
	Coverage float64 `json:"coverage"`
}

// Candidate is a catalog work that may be the same recording as the file.
type Candidate struct {
	WorkID        int64   `json:"work_id"`
	Title         string  `json:"title"`
	Artist        string  `json:"artist,omitempty"`
	Album         string  `json:"album,omitempty"`
	Year          int     `json:"year,omitempty"`
	Genre         string  `json:"genre,omitempty"`
	Country       string  `json:"country,omitempty"`
	Language      string  `json:"language,omitempty"`
	MusicBrainzID string  `json:"musicbrainz_id,omitempty"`
	Popularity    float64 `json:"popularity"`
	Similarity    float64 `json:"similarity"`
	Exact         bool    `json:"exact,omitempty"`
	Corroboration int     `json:"corroboration"`
	Span          *Span   `json:"span,omitempty"`
}

func newCandidate(w *store.Work, similarity float64) Candidate {
	return Candidate{
		WorkID:        w.ID,
		Title:         w.Title,
		Artist:        w.Artist,
		Album:         w.Album,
		Year:          w.Year,
		Genre:         w.Genre,
		Country:       w.Country,
		Language:      w.Language,
		MusicBrainzID: w.MusicBrainzID,
		Popularity:    w.Popularity,
		Similarity:    similarity,
	}
}

// Metadata converts c into the catalog metadata of fileID.
func (c *Candidate) Metadata(fileID int64, source string, quality float64) *store.Metadata {
	return &store.Metadata{
		MediaFileID:   fileID,
		Title:         c.Title,
		Artist:        c.Artist,
		Album:         c.Album,
		Year:          c.Year,
		Genre:         c.Genre,
		Country:       c.Country,
		Language:      c.Language,
		MusicBrainzID: c.MusicBrainzID,
		Source:        source,
		Quality:       quality,
	}
}

// Result is the ranked output of one match.
type Result struct {
	Outcome    Outcome     `json:"outcome"`
	Candidates []Candidate `json:"candidates"`
}

// Best returns the top-ranked candidate, or nil.
func (r *Result) Best() *Candidate {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	return &r.Candidates[0]
}

// Encode serializes the candidate list for storage.
func (r *Result) Encode() (string, error) {
	cands := r.Candidates
	if cands == nil {
		cands = []Candidate{}
	}
	b, err := json.Marshal(cands)
	if err != nil {
		return "", fmt.Errorf("failed to encode candidates: %w", err)
	}
	return string(b), nil
}

// DecodeResult rebuilds a Result from a stored match record.
func DecodeResult(outcome, candidatesJSON string) (*Result, error) {
	r := &Result{Outcome: Outcome(outcome)}
	if candidatesJSON != "" {
		if err := json.Unmarshal([]byte(candidatesJSON), &r.Candidates); err != nil {
			return nil, fmt.Errorf("failed to parse candidates: %w", err)
		}
	}
	return r, nil
}

// rank orders candidates: similarity desc, corroboration desc, popularity
// desc, work id asc. The last key makes the order total.
func rank(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Corroboration != b.Corroboration {
			return a.Corroboration > b.Corroboration
		}
		if a.Popularity != b.Popularity {
			return a.Popularity > b.Popularity
		}
		return a.WorkID < b.WorkID
	})
}
