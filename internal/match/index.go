// Package match finds catalog works whose reference fingerprints resemble
// a file's fingerprint.
package match

import (
	"context"
	"fmt"
	"sync"

	"github.com/franz/media-organizer/internal/fingerprint"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

// WorkSource is the persisted catalog the index is built from.
type WorkSource interface {
	ListWorks(ctx context.Context) ([]*store.Work, error)
	ListWorkFingerprints(ctx context.Context, algorithm string, version int) ([]*store.WorkFingerprint, error)
}

type audioRef struct {
	workID  int64
	subs    []uint32
	frameMs float64
}

type videoRef struct {
	workID  int64
	hashes  []uint64
	frameMs float64
}

type posting struct {
	ref   int
	frame int
}

// Index holds the reference fingerprints of all catalog works in memory.
// It is safe for concurrent use; Add may run while matches are in flight.
type Index struct {
	mu sync.RWMutex

	loaded bool
	works  map[int64]*store.Work
	exact  map[string][]int64

	audioRefs  []audioRef
	audioWords map[uint32][]posting

	videoRefs []videoRef
	videoTree bkTree
}

// NewIndex returns an empty index. Match fails with ErrIndexUnavailable
// until Load or Add has been called.
func NewIndex() *Index {
	ix := &Index{}
	ix.reset()
	return ix
}

func (ix *Index) reset() {
	ix.works = make(map[int64]*store.Work)
	ix.exact = make(map[string][]int64)
	ix.audioRefs = nil
	ix.audioWords = make(map[uint32][]posting)
	ix.videoRefs = nil
	ix.videoTree = bkTree{}
}

// Load rebuilds the index from src. On failure the previous contents are
// kept and ErrIndexUnavailable is returned.
func (ix *Index) Load(ctx context.Context, src WorkSource) error {
	works, err := src.ListWorks(ctx)
	if err != nil {
		return fmt.Errorf("%w: list works: %v", util.ErrIndexUnavailable, err)
	}
	var fps []*store.WorkFingerprint
	for _, algo := range []struct {
		name    string
		version int
	}{
		{fingerprint.AudioAlgorithm, fingerprint.AudioVersion},
		{fingerprint.VideoAlgorithm, fingerprint.VideoVersion},
	} {
		list, err := src.ListWorkFingerprints(ctx, algo.name, algo.version)
		if err != nil {
			return fmt.Errorf("%w: list %s fingerprints: %v", util.ErrIndexUnavailable, algo.name, err)
		}
		fps = append(fps, list...)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.reset()
	for _, w := range works {
		ix.works[w.ID] = w
	}
	for _, wf := range fps {
		if err := ix.addFingerprintLocked(wf); err != nil {
			util.WarnLog("Skipping reference fingerprint %d of work %d: %v", wf.ID, wf.WorkID, err)
		}
	}
	ix.loaded = true

	util.DebugLog("Fingerprint index loaded: %d works, %d audio refs, %d video refs",
		len(ix.works), len(ix.audioRefs), len(ix.videoRefs))
	return nil
}

// Add registers a work and its reference fingerprints at runtime.
func (ix *Index) Add(w *store.Work, fps ...*store.WorkFingerprint) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.works[w.ID] = w
	for _, wf := range fps {
		if err := ix.addFingerprintLocked(wf); err != nil {
			return err
		}
	}
	ix.loaded = true
	return nil
}

func (ix *Index) addFingerprintLocked(wf *store.WorkFingerprint) error {
	if _, ok := ix.works[wf.WorkID]; !ok {
		return fmt.Errorf("unknown work %d", wf.WorkID)
	}

	switch {
	case wf.Algorithm == fingerprint.AudioAlgorithm && wf.AlgorithmVersion == fingerprint.AudioVersion:
		subs, err := fingerprint.ParseAudio(wf.Blob)
		if err != nil {
			return err
		}
		ref := len(ix.audioRefs)
		ix.audioRefs = append(ix.audioRefs, audioRef{
			workID:  wf.WorkID,
			subs:    subs,
			frameMs: frameDuration(wf.DurationMs, len(subs), fingerprint.FrameDurationMs),
		})
		for i, w := range subs {
			if w == 0 {
				continue
			}
			ix.audioWords[w] = append(ix.audioWords[w], posting{ref: ref, frame: i})
		}

	case wf.Algorithm == fingerprint.VideoAlgorithm && wf.AlgorithmVersion == fingerprint.VideoVersion:
		hashes, err := fingerprint.ParseVideo(wf.Blob)
		if err != nil {
			return err
		}
		ref := len(ix.videoRefs)
		ix.videoRefs = append(ix.videoRefs, videoRef{
			workID:  wf.WorkID,
			hashes:  hashes,
			frameMs: frameDuration(wf.DurationMs, len(hashes), 1000),
		})
		for i, h := range hashes {
			ix.videoTree.insert(h, bkItem{ref: ref, frame: i})
		}

	default:
		return fmt.Errorf("unsupported algorithm %s v%d", wf.Algorithm, wf.AlgorithmVersion)
	}

	ix.exact[wf.BlobSHA256] = appendUnique(ix.exact[wf.BlobSHA256], wf.WorkID)
	return nil
}

// Stats reports the number of works and reference fingerprints.
func (ix *Index) Stats() (works, references int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.works), len(ix.audioRefs) + len(ix.videoRefs)
}

// Work returns a catalog work by id, or nil.
func (ix *Index) Work(id int64) *store.Work {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.works[id]
}

func frameDuration(durationMs int64, frames int, fallback float64) float64 {
	if durationMs > 0 && frames > 0 {
		return float64(durationMs) / float64(frames)
	}
	return fallback
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}
