package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/media-organizer/internal/store"
)

// RunStats accumulates per-file outcomes of one batch run. Safe for
// concurrent use by workers.
type RunStats struct {
	mu         sync.Mutex
	RunID      string
	StartedAt  time.Time
	Processed  int
	Bytes      int64
	Outcomes   map[store.Status]int
	ErrorKinds map[string]int
}

// NewRunStats starts tracking a run.
func NewRunStats(runID string) *RunStats {
	return &RunStats{
		RunID:      runID,
		StartedAt:  time.Now(),
		Outcomes:   make(map[store.Status]int),
		ErrorKinds: make(map[string]int),
	}
}

// Add records the final status of one processed file.
func (s *RunStats) Add(status store.Status, sizeBytes int64, errKind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed++
	s.Bytes += sizeBytes
	s.Outcomes[status]++
	if errKind != "" {
		s.ErrorKinds[errKind]++
	}
}

// Snapshot returns a copy safe to read while workers keep adding.
func (s *RunStats) Snapshot() RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := RunStats{
		RunID:      s.RunID,
		StartedAt:  s.StartedAt,
		Processed:  s.Processed,
		Bytes:      s.Bytes,
		Outcomes:   make(map[store.Status]int, len(s.Outcomes)),
		ErrorKinds: make(map[string]int, len(s.ErrorKinds)),
	}
	for k, v := range s.Outcomes {
		cp.Outcomes[k] = v
	}
	for k, v := range s.ErrorKinds {
		cp.ErrorKinds[k] = v
	}
	return cp
}

// SummaryReport describes the whole library state after a run
type SummaryReport struct {
	GeneratedAt  time.Time
	Duration     time.Duration
	RunID        string
	Processed    int
	BytesRead    int64
	ByStatus     map[store.Status]int
	OpenReviews  int
	ActiveModel  int
	TopErrors    []ErrorSummary
	Violations   []string
	DatabasePath string
	EventLogPath string
}

// ErrorSummary represents an error kind with its count
type ErrorSummary struct {
	Kind  string
	Count int
}

// GenerateSummaryReport combines run statistics with the store's view of
// the library.
func GenerateSummaryReport(ctx context.Context, db *store.Store, stats *RunStats) (*SummaryReport, error) {
	rep := &SummaryReport{GeneratedAt: time.Now()}
	if stats != nil {
		snap := stats.Snapshot()
		rep.RunID = snap.RunID
		rep.Duration = time.Since(snap.StartedAt)
		rep.Processed = snap.Processed
		rep.BytesRead = snap.Bytes
		rep.TopErrors = topErrors(snap.ErrorKinds, 10)
	}

	counts, err := db.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	rep.ByStatus = counts

	open, err := db.ListOpenReviews(ctx, 0)
	if err != nil {
		return nil, err
	}
	rep.OpenReviews = len(open)

	active, err := db.GetActiveModel(ctx)
	if err != nil {
		return nil, err
	}
	if active != nil {
		rep.ActiveModel = active.Version
	}

	violations, err := db.CheckReviewInvariant(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range violations {
		rep.Violations = append(rep.Violations, v.String())
	}
	return rep, nil
}

func topErrors(kinds map[string]int, limit int) []ErrorSummary {
	out := make([]ErrorSummary, 0, len(kinds))
	for k, n := range kinds {
		out = append(out, ErrorSummary{Kind: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind < out[j].Kind
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(rep *SummaryReport, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder
	md.WriteString("# Media Organizer - Run Summary\n\n")
	fmt.Fprintf(&md, "**Generated:** %s\n\n", rep.GeneratedAt.Format("2006-01-02 15:04:05"))
	if rep.RunID != "" {
		fmt.Fprintf(&md, "**Run:** `%s`\n\n", rep.RunID)
	}
	if rep.DatabasePath != "" {
		fmt.Fprintf(&md, "**Database:** `%s`\n\n", rep.DatabasePath)
	}
	if rep.EventLogPath != "" {
		fmt.Fprintf(&md, "**Event Log:** `%s`\n\n", rep.EventLogPath)
	}
	md.WriteString("---\n\n")

	md.WriteString("## Run\n\n| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&md, "| Files Processed | %d |\n", rep.Processed)
	fmt.Fprintf(&md, "| Data Read | %s |\n", humanize.Bytes(uint64(rep.BytesRead)))
	if rep.Duration > 0 {
		fmt.Fprintf(&md, "| Duration | %s |\n", rep.Duration.Round(time.Second))
	}
	if rep.ActiveModel > 0 {
		fmt.Fprintf(&md, "| Active Model | v%d |\n", rep.ActiveModel)
	} else {
		md.WriteString("| Active Model | none |\n")
	}
	fmt.Fprintf(&md, "| Awaiting Review | %d |\n\n", rep.OpenReviews)

	md.WriteString("## Library Status\n\n| Status | Files |\n|--------|-------|\n")
	for _, st := range store.AllStatuses() {
		if n := rep.ByStatus[st]; n > 0 {
			fmt.Fprintf(&md, "| %s | %d |\n", st, n)
		}
	}
	md.WriteString("\n")

	if len(rep.TopErrors) > 0 {
		md.WriteString("## Top Errors\n\n| Count | Kind |\n|-------|------|\n")
		for _, e := range rep.TopErrors {
			fmt.Fprintf(&md, "| %d | %s |\n", e.Count, e.Kind)
		}
		md.WriteString("\n")
	}

	if len(rep.Violations) > 0 {
		md.WriteString("## Review Queue Inconsistencies\n\n")
		for _, v := range rep.Violations {
			fmt.Fprintf(&md, "- %s\n", v)
		}
		md.WriteString("\n")
	}

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
