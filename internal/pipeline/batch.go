package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/media-organizer/internal/report"
	"github.com/franz/media-organizer/internal/scan"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
	"github.com/schollz/progressbar/v3"
	"github.com/sourcegraph/conc/pool"
)

// BatchOptions selects the files of a batch run. With no paths every file
// that has not reached a disposition is resumed.
type BatchOptions struct {
	Paths []string // files or directories
	RunID string
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	RunID      string
	Files      []*FileResult
	Stats      *report.RunStats
	Violations []store.ReviewInvariantViolation
	Failed     int
	Retrain    *RetrainResult // set when the batch triggered retraining
}

// RunBatch processes a set of files on a bounded worker pool. Per-file
// failures are recorded and the batch moves on; a fatal error cancels the
// remaining work and is returned.
func (p *Pipeline) RunBatch(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	cfg := p.provider.Current()
	r := p.newRun(opts.RunID)
	result := &BatchResult{RunID: r.id, Stats: report.NewRunStats(r.id)}

	if _, err := p.models.Active(ctx); err != nil {
		return result, fmt.Errorf("cannot start batch: %w", err)
	}

	files, err := p.collect(ctx, r, opts.Paths)
	if err != nil {
		return result, err
	}
	r.record(ctx, &report.Event{
		Level:   report.LevelInfo,
		Stage:   report.StageBatch,
		Message: fmt.Sprintf("batch started: %d files, concurrency %d", len(files), cfg.Concurrency),
	})
	if len(files) == 0 {
		util.InfoLog("Nothing to process")
		if err := p.finish(ctx, r, result); err != nil {
			return result, err
		}
		result.Retrain = p.retrainAfterBatch(ctx)
		return result, nil
	}
	util.InfoLog("Processing %d files with %d workers (run %s)", len(files), cfg.Concurrency, r.id)

	var done atomic.Int64
	bar := p.newBar(len(files))
	stopProgress := p.reportProgress(ctx, bar, &done, len(files))

	results := make([]*FileResult, len(files))
	wp := pool.New().
		WithContext(ctx).
		WithMaxGoroutines(cfg.Concurrency).
		WithCancelOnError().
		WithFirstError()
	for i, f := range files {
		wp.Go(func(ctx context.Context) error {
			if ctx.Err() != nil {
				return nil
			}
			res := p.advance(ctx, r, f)
			results[i] = res
			result.Stats.Add(res.Status, res.SizeBytes, util.ErrorKind(res.Err))
			done.Add(1)
			if util.Classify(res.Err) == util.ClassFatal {
				return res.Err
			}
			return nil
		})
	}
	fatal := wp.Wait()
	stopProgress()

	for _, res := range results {
		if res == nil {
			continue
		}
		result.Files = append(result.Files, res)
		if res.Err != nil {
			result.Failed++
		}
	}

	if fatal != nil {
		r.record(context.WithoutCancel(ctx), &report.Event{
			Level:     report.LevelError,
			Stage:     report.StageBatch,
			ErrorKind: util.ErrorKind(fatal),
			Error:     fatal.Error(),
			Message:   "batch aborted",
		})
		if err := p.finish(context.WithoutCancel(ctx), r, result); err != nil {
			util.WarnLog("Post-batch checks failed: %v", err)
		}
		return result, fmt.Errorf("batch aborted: %w", fatal)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if err := p.finish(ctx, r, result); err != nil {
		return result, err
	}
	result.Retrain = p.retrainAfterBatch(ctx)
	return result, nil
}

// retrainAfterBatch runs a due retrain. Its failures never fail the batch.
func (p *Pipeline) retrainAfterBatch(ctx context.Context) *RetrainResult {
	res, err := p.RetrainIfDue(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRetrainRunning), errors.Is(err, util.ErrInsufficientFeedback):
		util.InfoLog("Skipping automatic retrain: %v", err)
	default:
		util.WarnLog("Automatic retrain failed: %v", err)
	}
	return res
}

// finish checks the review-queue invariant and logs the run summary.
func (p *Pipeline) finish(ctx context.Context, r *run, result *BatchResult) error {
	violations, err := p.store.CheckReviewInvariant(ctx)
	if err != nil {
		return err
	}
	result.Violations = violations
	for _, v := range violations {
		util.ErrorLog("Review queue inconsistency: %s", v)
		r.record(ctx, &report.Event{
			Level:   report.LevelError,
			Stage:   report.StageBatch,
			FileID:  v.MediaFileID,
			Message: "review queue invariant violated: " + v.String(),
		})
	}

	snap := result.Stats.Snapshot()
	r.record(ctx, &report.Event{
		Level:    report.LevelInfo,
		Stage:    report.StageBatch,
		Message:  fmt.Sprintf("batch finished: %d files, %d failed", snap.Processed, result.Failed),
		Duration: time.Since(snap.StartedAt).Milliseconds(),
	})
	util.SuccessLog("Processed %d files (%s) in %s: %d accepted, %d rejected, %d for review, %d failed",
		snap.Processed, humanize.Bytes(uint64(snap.Bytes)), time.Since(snap.StartedAt).Round(time.Millisecond),
		snap.Outcomes[store.StatusAutoAccepted], snap.Outcomes[store.StatusAutoRejected],
		snap.Outcomes[store.StatusPendingReview], result.Failed)
	return nil
}

// collect resolves the batch selection into file rows. Directories are
// scanned and registered; single files are registered directly.
func (p *Pipeline) collect(ctx context.Context, r *run, paths []string) ([]*store.MediaFile, error) {
	if len(paths) == 0 {
		return p.store.ListFilesByStatus(ctx,
			store.StatusDiscovered, store.StatusFingerprinted, store.StatusMatched, store.StatusScored)
	}

	cfg := p.provider.Current()
	var files []*store.MediaFile
	seen := make(map[int64]bool)
	add := func(f *store.MediaFile) {
		if !seen[f.ID] {
			seen[f.ID] = true
			files = append(files, f)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		if !info.IsDir() {
			f, err := p.register(ctx, r, path)
			if err != nil {
				util.WarnLog("Skipping %s: %v", path, err)
				continue
			}
			add(f)
			continue
		}

		scanner := scan.New(&scan.Config{
			Store:       p.store,
			Concurrency: cfg.Concurrency,
			Recorder:    r.recorder,
			Progress:    p.progress,
		})
		res, err := scanner.Scan(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, f := range res.Files {
			add(f)
		}
	}
	return files, nil
}

func (p *Pipeline) newBar(total int) *progressbar.ProgressBar {
	if !p.progress || !util.StdoutIsTerminal() || util.IsQuiet() {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Processing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// reportProgress updates the bar, or logs a progress line every few
// seconds when there is no bar. The returned func stops it.
func (p *Pipeline) reportProgress(ctx context.Context, bar *progressbar.ProgressBar, done *atomic.Int64, total int) func() {
	progressCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		interval := 2 * time.Second
		if bar != nil {
			interval = 200 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-progressCtx.Done():
				return
			case <-ticker.C:
				n := done.Load()
				if bar != nil {
					bar.Set64(n)
				} else if n > 0 {
					util.InfoLog("Progress: %d/%d (%.1f%%)", n, total, float64(n)/float64(total)*100)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-stopped
		if bar != nil {
			bar.Set64(done.Load())
			bar.Finish()
		}
	}
}

// Requeue moves every extraction_failed or failed file back to discovered.
func (p *Pipeline) Requeue(ctx context.Context) (int, error) {
	r := p.newRun("")
	files, err := p.store.ListFilesByStatus(ctx, store.StatusExtractionFailed, store.StatusFailed)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range files {
		prev, prevKind := f.Status, f.ErrorKind
		if err := p.store.Transition(ctx, f, store.StatusDiscovered, "", ""); err != nil {
			util.WarnLog("Cannot requeue %s: %v", f.Path, err)
			continue
		}
		ev := report.Transition(report.StageDiscover, f.ID, f.Path, string(prev), string(store.StatusDiscovered))
		ev.Message = "requeued"
		if prevKind != "" {
			ev.Extra = map[string]string{"previous_error": prevKind}
		}
		r.record(ctx, ev)
		n++
	}
	return n, nil
}
