package match

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/franz/media-organizer/internal/fingerprint"
	"github.com/franz/media-organizer/internal/meta"
	"github.com/franz/media-organizer/internal/util"
)

const (
	// Audio query frames probed against the inverted index.
	probeStride = 4
	// Words this common carry no information (silence, clipping).
	maxPostingsPerWord = 4096
	// Alignments verified per reference.
	maxOffsetsPerRef = 3
	minOverlapFrames = 4
)

// Options bound a match. They come from the current config snapshot.
type Options struct {
	MinSimilarity float64
	TopK          int
	MaxHamming    int
	// MinCorroboration is the title/artist similarity that counts as
	// agreement. Zero uses meta.DefaultCorroborationSimilarity.
	MinCorroboration float64
}

// Query describes the file being matched.
type Query struct {
	Algorithm  string
	Version    int
	Blob       []byte
	BlobSHA256 string
	Title      string
	Artist     string
}

type voteKey struct {
	ref   int
	delta int
}

type vote struct {
	voteKey
	count int
}

type hit struct {
	similarity float64
	exact      bool
	span       *Span
}

// Match ranks the catalog works resembling q. A file nothing resembles
// yields OutcomeNoCandidates, not an error.
func (ix *Index) Match(ctx context.Context, q Query, opts Options) (*Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !ix.loaded {
		return nil, fmt.Errorf("fingerprint index not loaded: %w", util.ErrIndexUnavailable)
	}

	hits := make(map[int64]hit)
	consider := func(workID int64, h hit) {
		prev, ok := hits[workID]
		if !ok || h.similarity > prev.similarity || (h.similarity == prev.similarity && h.exact && !prev.exact) {
			hits[workID] = h
		}
	}

	for _, id := range ix.exact[q.BlobSHA256] {
		consider(id, hit{similarity: 1, exact: true})
	}

	var err error
	switch {
	case q.Algorithm == fingerprint.AudioAlgorithm && q.Version == fingerprint.AudioVersion:
		err = ix.matchAudio(ctx, q.Blob, consider)
	case q.Algorithm == fingerprint.VideoAlgorithm && q.Version == fingerprint.VideoVersion:
		err = ix.matchVideo(ctx, q.Blob, opts.MaxHamming, consider)
	}
	if err != nil {
		return nil, err
	}

	cands := make([]Candidate, 0, len(hits))
	for workID, h := range hits {
		if h.similarity < opts.MinSimilarity {
			continue
		}
		w, ok := ix.works[workID]
		if !ok {
			continue
		}
		c := newCandidate(w, h.similarity)
		c.Exact = h.exact
		c.Span = h.span
		c.Corroboration = meta.Corroboration(q.Title, q.Artist, w.Title, w.Artist, opts.MinCorroboration)
		cands = append(cands, c)
	}
	rank(cands)
	if opts.TopK > 0 && len(cands) > opts.TopK {
		cands = cands[:opts.TopK]
	}

	res := &Result{Outcome: OutcomeMatched, Candidates: cands}
	if len(cands) == 0 {
		res.Outcome = OutcomeNoCandidates
	}
	return res, nil
}

func (ix *Index) matchAudio(ctx context.Context, blob []byte, consider func(int64, hit)) error {
	query, err := fingerprint.ParseAudio(blob)
	if err != nil {
		return err
	}

	votes := make(map[voteKey]int)
	probe := func(word uint32, frame int) {
		ps := ix.audioWords[word]
		if len(ps) > maxPostingsPerWord {
			return
		}
		for _, p := range ps {
			votes[voteKey{ref: p.ref, delta: p.frame - frame}]++
		}
	}
	for i := 0; i < len(query); i += probeStride {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		w := query[i]
		probe(w, i)
		for b := 0; b < 32; b++ {
			probe(w^(1<<uint(b)), i)
		}
	}

	for _, v := range topOffsets(votes) {
		ref := ix.audioRefs[v.ref]
		j0, j1 := overlap(len(query), len(ref.subs), v.delta)
		n := j1 - j0
		if n <= 0 || n < min(minOverlapFrames, len(query)) {
			continue
		}
		ber := fingerprint.BitErrorRate(query[j0:j1], ref.subs[j0+v.delta:j1+v.delta])
		consider(ref.workID, hit{
			similarity: clamp01(1 - 2*ber),
			span:       newSpan(j0+v.delta, n, len(ref.subs), ref.frameMs),
		})
	}
	return nil
}

func (ix *Index) matchVideo(ctx context.Context, blob []byte, radius int, consider func(int64, hit)) error {
	query, err := fingerprint.ParseVideo(blob)
	if err != nil {
		return err
	}

	votes := make(map[voteKey]int)
	for i, h := range query {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		ix.videoTree.search(h, radius, func(it bkItem, _ int) {
			votes[voteKey{ref: it.ref, delta: it.frame - i}]++
		})
	}

	for _, v := range topOffsets(votes) {
		ref := ix.videoRefs[v.ref]
		j0, j1 := overlap(len(query), len(ref.hashes), v.delta)
		n := j1 - j0
		if n <= 0 || n < min(minOverlapFrames, len(query)) {
			continue
		}
		total := 0
		for j := j0; j < j1; j++ {
			total += fingerprint.Hamming(query[j], ref.hashes[j+v.delta])
		}
		mean := float64(total) / float64(n)
		consider(ref.workID, hit{
			similarity: clamp01(1 - mean/32),
			span:       newSpan(j0+v.delta, n, len(ref.hashes), ref.frameMs),
		})
	}
	return nil
}

// topOffsets keeps the best-voted alignments of every reference, ordered
// deterministically.
func topOffsets(votes map[voteKey]int) []vote {
	all := make([]vote, 0, len(votes))
	for k, c := range votes {
		all = append(all, vote{voteKey: k, count: c})
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.ref != b.ref {
			return a.ref < b.ref
		}
		if a.count != b.count {
			return a.count > b.count
		}
		return a.delta < b.delta
	})

	var out []vote
	prevRef, perRef := -1, 0
	for _, v := range all {
		if v.ref != prevRef {
			prevRef, perRef = v.ref, 0
		}
		if perRef < maxOffsetsPerRef {
			out = append(out, v)
			perRef++
		}
	}
	return out
}

// overlap returns the query frame range [j0, j1) that aligns with the
// reference when query frame j corresponds to reference frame j+delta.
func overlap(queryLen, refLen, delta int) (int, int) {
	j0 := max(0, -delta)
	j1 := min(queryLen, refLen-delta)
	return j0, j1
}

func newSpan(start, frames, refFrames int, frameMs float64) *Span {
	return &Span{
		StartMs:  int64(math.Round(float64(start) * frameMs)),
		EndMs:    int64(math.Round(float64(start+frames) * frameMs)),
		Coverage: float64(frames) / float64(refFrames),
	}
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
