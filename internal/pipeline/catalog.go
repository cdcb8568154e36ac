package pipeline

import (
	"context"
	"fmt"

	"github.com/franz/media-organizer/internal/scan"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

// AddWork fingerprints a reference recording and adds it to the catalog
// as w. A loaded index picks the work up immediately.
func (p *Pipeline) AddWork(ctx context.Context, w *store.Work, path string) (*store.WorkFingerprint, error) {
	if w.Title == "" {
		return nil, fmt.Errorf("%w: catalog work needs a title", util.ErrInvalidConfig)
	}
	kind, ok := scan.KindForPath(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, util.ErrUnsupportedFormat)
	}

	cfg := p.provider.Current()
	ectx, cancel := context.WithTimeout(ctx, cfg.Extraction.Timeout)
	defer cancel()
	res, err := p.extractor.Extract(ectx, path, kind)
	if err != nil {
		return nil, err
	}

	wf := &store.WorkFingerprint{
		Algorithm:        res.Algorithm,
		AlgorithmVersion: res.Version,
		Blob:             res.Blob,
		BlobSHA256:       util.BytesHash(res.Blob),
		DurationMs:       res.DurationMs,
	}
	err = p.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertWork(ctx, w); err != nil {
			return err
		}
		wf.WorkID = w.ID
		return tx.InsertWorkFingerprint(ctx, wf)
	})
	if err != nil {
		return nil, err
	}

	p.indexMu.Lock()
	defer p.indexMu.Unlock()
	if p.indexLoaded {
		if err := p.index.Add(w, wf); err != nil {
			return nil, err
		}
	}
	return wf, nil
}
