// Package pipeline drives media files from discovery to a disposition:
// extract, vectorize and match, score, route.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/franz/media-organizer/internal/config"
	"github.com/franz/media-organizer/internal/fingerprint"
	"github.com/franz/media-organizer/internal/match"
	"github.com/franz/media-organizer/internal/meta"
	"github.com/franz/media-organizer/internal/musicbrainz"
	"github.com/franz/media-organizer/internal/report"
	"github.com/franz/media-organizer/internal/route"
	"github.com/franz/media-organizer/internal/scan"
	"github.com/franz/media-organizer/internal/score"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
	"github.com/google/uuid"
)

// TagSource reads descriptive metadata for a file.
type TagSource interface {
	Read(ctx context.Context, path string, kind store.Kind) (*meta.Tags, error)
}

// MetadataLookup resolves a MusicBrainz recording ID.
type MetadataLookup interface {
	Lookup(ctx context.Context, mbid string) (*musicbrainz.Recording, error)
}

// Config wires the pipeline collaborators. Only Store and Provider are
// required; the rest default to the production implementations built
// from the current configuration.
type Config struct {
	Store     *store.Store
	Provider  *config.Provider
	Extractor *fingerprint.Extractor
	Tags      TagSource
	Index     *match.Index
	Models    *score.Registry
	Lookup    MetadataLookup // optional
	Events    report.Recorder
	Progress  bool
}

// Pipeline processes media files. Safe for concurrent use.
type Pipeline struct {
	store     *store.Store
	provider  *config.Provider
	extractor *fingerprint.Extractor
	tags      TagSource
	index     *match.Index
	models    *score.Registry
	scorer    *score.Scorer
	router    *route.Router
	lookup    MetadataLookup
	events    report.Recorder
	progress  bool

	indexMu     sync.Mutex
	indexLoaded bool
}

// New builds a pipeline from cfg.
func New(cfg *Config) *Pipeline {
	current := cfg.Provider.Current()
	p := &Pipeline{
		store:     cfg.Store,
		provider:  cfg.Provider,
		extractor: cfg.Extractor,
		tags:      cfg.Tags,
		index:     cfg.Index,
		models:    cfg.Models,
		lookup:    cfg.Lookup,
		events:    cfg.Events,
		progress:  cfg.Progress,
	}
	if p.extractor == nil {
		dec := fingerprint.NewAutoDecoder(current.Extraction.FFmpegPath, current.Extraction.FFprobePath,
			current.Extraction.VideoFPS)
		p.extractor = fingerprint.NewExtractor(dec)
	}
	if p.tags == nil {
		p.tags = &meta.TagReader{FFprobePath: current.Extraction.FFprobePath}
	}
	if p.index == nil {
		p.index = match.NewIndex()
	}
	if p.models == nil {
		p.models = score.NewRegistry(cfg.Store)
	}
	p.scorer = score.NewScorer(p.models, func() score.BoostRule {
		return score.BoostRuleFrom(p.provider.Current().Boost)
	})
	p.router = route.FromProvider(cfg.Store, cfg.Provider)
	return p
}

// FileResult is where one file ended up.
type FileResult struct {
	FileID    int64
	Path      string
	SizeBytes int64
	Status    store.Status
	Err       error
}

// run carries per-invocation audit state.
type run struct {
	id       string
	recorder report.Recorder
}

func (p *Pipeline) newRun(id string) *run {
	if id == "" {
		id = uuid.NewString()
	}
	return &run{
		id:       id,
		recorder: report.Multi{p.events, report.NewStoreRecorder(p.store, id)},
	}
}

func (r *run) record(ctx context.Context, e *report.Event) {
	if e.RunID == "" {
		e.RunID = r.id
	}
	if err := r.recorder.Record(ctx, e); err != nil {
		util.WarnLog("Failed to record %s event for file %d: %v", e.Stage, e.FileID, err)
	}
}

// ProcessFile registers path if needed and advances it as far as it can
// go. A file that is already dispositioned is reported unchanged.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (*FileResult, error) {
	r := p.newRun("")
	f, err := p.register(ctx, r, path)
	if err != nil {
		return nil, err
	}
	res := p.advance(ctx, r, f)
	return res, res.Err
}

func (p *Pipeline) register(ctx context.Context, r *run, path string) (*store.MediaFile, error) {
	f, err := p.store.GetFileByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if f != nil {
		return f, nil
	}

	kind, ok := scan.KindForPath(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, util.ErrUnsupportedFormat)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	hash, err := util.ContentHash(path)
	if err != nil {
		return nil, err
	}
	f, created, err := p.store.RegisterFile(ctx, path, hash, info.Size(), kind)
	if err != nil {
		return nil, err
	}
	if created {
		ev := report.Transition(report.StageDiscover, f.ID, path, "", string(store.StatusDiscovered))
		ev.Extra = map[string]string{"kind": string(kind)}
		if f.DuplicateOf != 0 {
			ev.Extra["duplicate_of"] = strconv.FormatInt(f.DuplicateOf, 10)
			util.InfoLog("%s has the same content as file %d", path, f.DuplicateOf)
		}
		r.record(ctx, ev)
	}
	return f, nil
}

// stageFunc advances a file by one status. It receives a freshly read row.
type stageFunc func(ctx context.Context, r *run, f *store.MediaFile) error

func (p *Pipeline) stageFor(status store.Status) (report.Stage, stageFunc) {
	switch status {
	case store.StatusDiscovered:
		return report.StageExtract, p.extract
	case store.StatusFingerprinted:
		return report.StageMatch, p.matchFile
	case store.StatusMatched:
		return report.StageScore, p.scoreFile
	case store.StatusScored:
		return report.StageRoute, p.routeFile
	}
	return "", nil
}

// advance runs stages until the file reaches a status with no stage or a
// stage fails. Transient failures are retried at the stage boundary; if
// they persist the file keeps its status.
func (p *Pipeline) advance(ctx context.Context, r *run, f *store.MediaFile) *FileResult {
	res := &FileResult{FileID: f.ID, Path: f.Path, SizeBytes: f.SizeBytes, Status: f.Status}
	retry := p.provider.Current().RetryPolicy()

	for {
		stage, fn := p.stageFor(res.Status)
		if fn == nil {
			return res
		}
		from := res.Status
		start := time.Now()

		err := util.Retry(ctx, retry, func() error {
			cur, err := p.store.GetFile(ctx, f.ID)
			if err != nil {
				return err
			}
			if cur == nil {
				return fmt.Errorf("file %d: %w", f.ID, util.ErrNotFound)
			}
			if cur.Status != from {
				// another worker advanced it
				return nil
			}
			return fn(ctx, r, cur)
		}, fmt.Sprintf("%s %s", stage, f.Path))

		cur, gerr := p.store.GetFile(context.WithoutCancel(ctx), f.ID)
		if gerr == nil && cur != nil {
			res.Status = cur.Status
		}

		if err != nil {
			res.Err = err
			kind := util.ErrorKind(err)
			if util.Classify(err) == util.ClassInputDefect && cur != nil && cur.Status == from &&
				from.CanTransition(store.StatusFailed) {
				// a defect past extraction would fail the same way on every pass
				if terr := p.store.Transition(context.WithoutCancel(ctx), cur, store.StatusFailed, kind, err.Error()); terr != nil {
					util.WarnLog("Cannot mark %s failed: %v", f.Path, terr)
				} else {
					res.Status = cur.Status
				}
			}
			if !errors.Is(err, context.Canceled) {
				ev := report.Failure(stage, f.ID, f.Path, kind, err)
				ev.From = string(from)
				ev.To = string(res.Status)
				ev.Duration = time.Since(start).Milliseconds()
				r.record(context.WithoutCancel(ctx), ev)
			}
			switch util.Classify(err) {
			case util.ClassFatal:
				util.ErrorLog("Fatal error at %s for %s: %v", stage, f.Path, err)
			case util.ClassInputDefect:
				util.WarnLog("Skipping %s at %s: %v", f.Path, stage, err)
			default:
				util.ErrorLog("Failed %s for %s: %v", stage, f.Path, err)
			}
			return res
		}
		if res.Status == from {
			// no progress without an error means a concurrent writer owns it
			return res
		}
	}
}
