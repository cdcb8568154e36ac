// Package scan discovers media files and registers them for processing.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/media-organizer/internal/report"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
	"github.com/schollz/progressbar/v3"
)

// AudioExtensions are the supported audio file extensions
var AudioExtensions = []string{
	".mp3", ".flac", ".m4a", ".aac", ".ogg", ".opus", ".wav",
	".aiff", ".aif", ".wma", ".ape", ".wv", ".mpc",
}

// VideoExtensions are the supported video file extensions
var VideoExtensions = []string{
	".mp4", ".mkv", ".avi", ".mov", ".m4v", ".webm", ".wmv", ".mpg", ".mpeg", ".ts",
}

var kindByExt = func() map[string]store.Kind {
	m := make(map[string]store.Kind, len(AudioExtensions)+len(VideoExtensions))
	for _, ext := range AudioExtensions {
		m[ext] = store.KindAudio
	}
	for _, ext := range VideoExtensions {
		m[ext] = store.KindVideo
	}
	return m
}()

// KindForPath classifies a path by extension. Unknown extensions are not
// media and are skipped during discovery.
func KindForPath(path string) (store.Kind, bool) {
	kind, ok := kindByExt[strings.ToLower(filepath.Ext(path))]
	return kind, ok
}

// Registrar is the part of the store discovery writes to.
type Registrar interface {
	RegisterFile(ctx context.Context, path, contentHash string, size int64, kind store.Kind) (*store.MediaFile, bool, error)
}

// Config holds scanner configuration
type Config struct {
	Store       Registrar
	Concurrency int
	Recorder    report.Recorder
	Progress    bool
}

// Scanner discovers media files in a directory tree
type Scanner struct {
	store       Registrar
	concurrency int
	recorder    report.Recorder
	progress    bool
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scanner{
		store:       cfg.Store,
		concurrency: cfg.Concurrency,
		recorder:    cfg.Recorder,
		progress:    cfg.Progress,
	}
}

// Result represents a scan result
type Result struct {
	FilesDiscovered int
	FilesNew        int
	FilesKnown      int
	BytesHashed     int64
	Files           []*store.MediaFile
	Errors          []error
}

// Scan walks sourcePath, hashes every media file and registers it as
// discovered. Files already registered under the same path are reported
// as known and left untouched.
func (s *Scanner) Scan(ctx context.Context, sourcePath string) (*Result, error) {
	util.InfoLog("Starting scan of: %s", sourcePath)

	result := &Result{}
	var mu sync.Mutex

	paths := make(chan string, 100)
	var found, processed, fresh, known atomic.Int64

	progressCtx, cancelProgress := context.WithCancel(ctx)
	defer cancelProgress()

	var bar *progressbar.ProgressBar
	if s.progress && util.StdoutIsTerminal() && !util.IsQuiet() {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-progressCtx.Done():
				return
			case <-ticker.C:
				if bar != nil {
					bar.Describe(fmt.Sprintf("Scanning | %d found | %d new | %d known",
						found.Load(), fresh.Load(), known.Load()))
					bar.Set64(processed.Load())
				} else if n := found.Load(); n > 0 {
					util.InfoLog("Progress: found %d media files, registered %d (new: %d, known: %d)",
						n, processed.Load(), fresh.Load(), known.Load())
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				if ctx.Err() != nil {
					return
				}
				f, created, size, err := s.register(ctx, path)
				processed.Add(1)

				mu.Lock()
				if err != nil {
					util.ErrorLog("Failed to register %s: %v", path, err)
					result.Errors = append(result.Errors, fmt.Errorf("%s: %w", path, err))
				} else {
					result.Files = append(result.Files, f)
					result.BytesHashed += size
					if created {
						fresh.Add(1)
					} else {
						known.Add(1)
					}
				}
				mu.Unlock()
			}
		}()
	}

	walkErr := filepath.WalkDir(sourcePath, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			util.WarnLog("Cannot access %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if path != sourcePath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, ok := KindForPath(path); !ok {
			return nil
		}
		found.Add(1)
		select {
		case paths <- path:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	close(paths)
	wg.Wait()
	cancelProgress()
	if bar != nil {
		bar.Finish()
	}

	result.FilesDiscovered = int(found.Load())
	result.FilesNew = int(fresh.Load())
	result.FilesKnown = int(known.Load())

	if walkErr != nil {
		return result, fmt.Errorf("scan interrupted: %w", walkErr)
	}

	util.SuccessLog("Scan complete: %d media files (%d new, %d known, %s hashed)",
		result.FilesDiscovered, result.FilesNew, result.FilesKnown, humanize.Bytes(uint64(result.BytesHashed)))
	return result, nil
}

func (s *Scanner) register(ctx context.Context, path string) (*store.MediaFile, bool, int64, error) {
	kind, ok := KindForPath(path)
	if !ok {
		return nil, false, 0, fmt.Errorf("%w: %s", util.ErrUnsupportedFormat, filepath.Ext(path))
	}
	size, err := util.FileSize(path)
	if err != nil {
		return nil, false, 0, err
	}
	hash, err := util.ContentHash(path)
	if err != nil {
		return nil, false, 0, err
	}

	f, created, err := s.store.RegisterFile(ctx, path, hash, size, kind)
	if err != nil {
		return nil, false, 0, err
	}
	if created && s.recorder != nil {
		ev := report.Transition(report.StageDiscover, f.ID, path, "", string(store.StatusDiscovered))
		ev.Extra = map[string]string{"kind": string(kind), "size": humanize.Bytes(uint64(size))}
		if f.DuplicateOf != 0 {
			ev.Extra["duplicate_of"] = strconv.FormatInt(f.DuplicateOf, 10)
		}
		if err := s.recorder.Record(ctx, ev); err != nil {
			util.WarnLog("Failed to record discovery of %s: %v", path, err)
		}
	}
	return f, created, size, nil
}
