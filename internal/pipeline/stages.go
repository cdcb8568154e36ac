package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/franz/media-organizer/internal/features"
	"github.com/franz/media-organizer/internal/fingerprint"
	"github.com/franz/media-organizer/internal/match"
	"github.com/franz/media-organizer/internal/report"
	"github.com/franz/media-organizer/internal/score"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

// extract fingerprints a discovered file and records its container tags.
// Input defects mark the file extraction_failed; cancellation of the
// parent context leaves it discovered.
func (p *Pipeline) extract(ctx context.Context, r *run, f *store.MediaFile) error {
	cfg := p.provider.Current()
	start := time.Now()

	ectx, cancel := context.WithTimeout(ctx, cfg.Extraction.Timeout)
	res, err := p.extractor.Extract(ectx, f.Path, f.Kind)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if util.Classify(err) == util.ClassInputDefect {
			if terr := p.store.Transition(ctx, f, store.StatusExtractionFailed, util.ErrorKind(err), err.Error()); terr != nil {
				return terr
			}
		}
		return err
	}

	fp, err := res.Fingerprint(f.ID)
	if err != nil {
		return err
	}
	tags, err := p.tags.Read(ctx, f.Path, f.Kind)
	if err != nil {
		return err
	}

	from := f.Status
	err = p.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.InsertFingerprint(ctx, fp); err != nil {
			return err
		}
		if !tags.Empty() {
			if _, err := tx.UpsertMetadata(ctx, tags.Metadata(f.ID)); err != nil {
				return err
			}
		}
		return tx.Transition(ctx, f, store.StatusFingerprinted, "", "")
	})
	if err != nil {
		return err
	}

	ev := report.Transition(report.StageExtract, f.ID, f.Path, string(from), string(f.Status))
	ev.Duration = time.Since(start).Milliseconds()
	ev.Extra = map[string]string{
		"algorithm":   fmt.Sprintf("%s/v%d", res.Algorithm, res.Version),
		"frames":      strconv.Itoa(res.FrameCount),
		"duration_ms": strconv.FormatInt(res.DurationMs, 10),
	}
	if !tags.Empty() {
		ev.Extra["tags"] = tags.Source
	}
	r.record(ctx, ev)
	return nil
}

// matchFile vectorizes a fingerprinted file and matches it against the
// catalog index.
func (p *Pipeline) matchFile(ctx context.Context, r *run, f *store.MediaFile) error {
	cfg := p.provider.Current()
	start := time.Now()

	alg, ver := fingerprint.AlgorithmFor(f.Kind)
	fp, err := p.store.GetFingerprint(ctx, f.ID, alg, ver)
	if err != nil {
		return err
	}
	if fp == nil {
		return fmt.Errorf("fingerprint %s/v%d for file %d: %w", alg, ver, f.ID, util.ErrNotFound)
	}
	raw, err := fingerprint.ParseRawFeatures(fp.FeaturesJSON)
	if err != nil {
		return fmt.Errorf("%w: %w", util.ErrSchemaMismatch, err)
	}
	md, err := p.store.GetMetadata(ctx, f.ID)
	if err != nil {
		return err
	}

	vec := features.Vectorize(raw, md)
	if err := vec.Check(cfg.Features.SchemaVersion); err != nil {
		return err
	}
	vecJSON, err := vec.Encode()
	if err != nil {
		return err
	}
	r.record(ctx, &report.Event{
		Level:   report.LevelDebug,
		Stage:   report.StageVectorize,
		FileID:  f.ID,
		Path:    f.Path,
		Message: fmt.Sprintf("feature schema v%d, %d values", vec.SchemaVersion, len(vec.Values)),
	})

	if err := p.ensureIndex(ctx); err != nil {
		return err
	}
	q := match.Query{
		Algorithm:  fp.Algorithm,
		Version:    fp.AlgorithmVersion,
		Blob:       fp.Blob,
		BlobSHA256: fp.BlobSHA256,
	}
	if md != nil {
		q.Title, q.Artist = md.Title, md.Artist
	}
	res, err := p.index.Match(ctx, q, match.Options{
		MinSimilarity: cfg.Matching.MinSimilarity,
		TopK:          cfg.Matching.TopK,
		MaxHamming:    cfg.Matching.MaxHamming,

		MinCorroboration: cfg.Matching.CorroborationSimilarity,
	})
	if err != nil {
		return err
	}
	p.enrich(ctx, r, f, res)

	candJSON, err := res.Encode()
	if err != nil {
		return err
	}

	from := f.Status
	err = p.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.InsertFeatures(ctx, f.ID, vec.SchemaVersion, vecJSON); err != nil {
			return err
		}
		if err := tx.SaveMatch(ctx, &store.MatchRecord{
			MediaFileID:    f.ID,
			FingerprintID:  fp.ID,
			Outcome:        string(res.Outcome),
			CandidatesJSON: candJSON,
		}); err != nil {
			return err
		}
		return tx.Transition(ctx, f, store.StatusMatched, "", "")
	})
	if err != nil {
		return err
	}

	ev := report.Transition(report.StageMatch, f.ID, f.Path, string(from), string(f.Status))
	ev.Duration = time.Since(start).Milliseconds()
	ev.Extra = map[string]string{
		"outcome":    string(res.Outcome),
		"candidates": strconv.Itoa(len(res.Candidates)),
	}
	if best := res.Best(); best != nil {
		ev.Extra["best_work"] = strconv.FormatInt(best.WorkID, 10)
		ev.Extra["similarity"] = strconv.FormatFloat(best.Similarity, 'f', 3, 64)
	}
	r.record(ctx, ev)
	return nil
}

// ensureIndex loads the catalog index on first use.
func (p *Pipeline) ensureIndex(ctx context.Context) error {
	p.indexMu.Lock()
	defer p.indexMu.Unlock()
	if p.indexLoaded {
		return nil
	}
	if err := p.index.Load(ctx, p.store); err != nil {
		return err
	}
	p.indexLoaded = true
	works, refs := p.index.Stats()
	util.InfoLog("Loaded fingerprint index: %d works, %d reference fingerprints", works, refs)
	return nil
}

// enrich fills genre and country of the best candidate from MusicBrainz.
// Lookup failures are logged and never fail the stage.
func (p *Pipeline) enrich(ctx context.Context, r *run, f *store.MediaFile, res *match.Result) {
	best := res.Best()
	if p.lookup == nil || best == nil || best.MusicBrainzID == "" {
		return
	}
	if best.Genre != "" && best.Country != "" {
		return
	}

	rec, err := p.lookup.Lookup(ctx, best.MusicBrainzID)
	if err != nil {
		util.WarnLog("MusicBrainz lookup for %s failed: %v", best.MusicBrainzID, err)
		ev := report.Failure(report.StageLookup, f.ID, f.Path, util.ErrorKind(err), err)
		ev.Level = report.LevelWarning
		r.record(ctx, ev)
		return
	}
	if best.Genre == "" {
		best.Genre = rec.Genre()
	}
	if best.Country == "" {
		best.Country = rec.Country()
	}
	r.record(ctx, &report.Event{
		Level:   report.LevelDebug,
		Stage:   report.StageLookup,
		FileID:  f.ID,
		Path:    f.Path,
		Message: fmt.Sprintf("enriched work %d from recording %s", best.WorkID, rec.ID),
		Extra:   map[string]string{"genre": best.Genre, "country": best.Country},
	})
}

// scoreFile computes the confidence of a matched file.
func (p *Pipeline) scoreFile(ctx context.Context, r *run, f *store.MediaFile) error {
	cfg := p.provider.Current()

	feat, err := p.store.GetFeatures(ctx, f.ID, cfg.Features.SchemaVersion)
	if err != nil {
		return err
	}
	if feat == nil {
		return fmt.Errorf("no v%d feature vector for file %d: %w",
			cfg.Features.SchemaVersion, f.ID, util.ErrSchemaMismatch)
	}
	vec, err := features.Decode(feat.VectorJSON, cfg.Features.SchemaVersion)
	if err != nil {
		return err
	}
	rec, err := p.store.GetLatestMatch(ctx, f.ID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("match result for file %d: %w", f.ID, util.ErrNotFound)
	}
	mres, err := match.DecodeResult(rec.Outcome, rec.CandidatesJSON)
	if err != nil {
		return err
	}
	md, err := p.store.GetMetadata(ctx, f.ID)
	if err != nil {
		return err
	}

	res, err := p.scorer.Score(ctx, score.Input{Vector: vec, Match: mres, Metadata: md})
	if err != nil {
		return err
	}
	row, err := res.Record(f.ID, feat.ID)
	if err != nil {
		return err
	}

	from := f.Status
	err = p.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.SaveScore(ctx, row); err != nil {
			return err
		}
		return tx.Transition(ctx, f, store.StatusScored, "", "")
	})
	if err != nil {
		return err
	}

	ev := report.Transition(report.StageScore, f.ID, f.Path, string(from), string(f.Status))
	ev.Extra = map[string]string{
		"score":         strconv.FormatFloat(res.Final, 'f', 4, 64),
		"pre_boost":     strconv.FormatFloat(res.PreBoost, 'f', 4, 64),
		"model_version": strconv.Itoa(res.ModelVersion),
	}
	if res.BoostReason != "" {
		ev.Extra["boost"] = res.BoostReason
	}
	r.record(ctx, ev)
	return nil
}

// routeFile dispositions a scored file. An auto-accepted identification is
// written to the file's metadata.
func (p *Pipeline) routeFile(ctx context.Context, r *run, f *store.MediaFile) error {
	d, err := p.router.Route(ctx, f.ID)
	if err != nil {
		return err
	}
	if !d.Changed {
		return nil
	}

	if d.Status == store.StatusAutoAccepted && d.Candidate != nil {
		md := d.Candidate.Metadata(f.ID, store.SourceCatalog, d.Score)
		if _, err := p.store.UpsertMetadata(ctx, md); err != nil {
			util.WarnLog("Failed to record accepted metadata for %s: %v", f.Path, err)
		}
	}

	ev := report.Transition(report.StageRoute, f.ID, f.Path, string(d.From), string(d.Status))
	ev.Extra = map[string]string{"score": strconv.FormatFloat(d.Score, 'f', 4, 64)}
	if d.Reason != "" {
		ev.Extra["reason"] = d.Reason
		ev.Extra["review_id"] = strconv.FormatInt(d.ReviewID, 10)
	}
	r.record(ctx, ev)
	return nil
}
