package main

import (
	"context"
	"fmt"

	"github.com/franz/media-organizer/internal/pipeline"
	"github.com/franz/media-organizer/internal/report"
	"github.com/franz/media-organizer/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [paths...]",
	Short: "Identify media files and route them to a disposition",
	Long: `Register media files and drive each one through extraction, matching,
scoring and routing.

Paths may be files or directories. Without paths the configured source
directory is scanned; with --resume (or no source at all) every file that has
not yet reached a disposition is picked up where it stopped.

Confident identifications are accepted or rejected automatically. The rest
are queued for review (see 'mediaorg review list').

The config file is watched while the batch runs: threshold and boost
changes apply to the next routing decision.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().String("source", "", "source directory (overrides config)")
	ingestCmd.Flags().IntP("concurrency", "c", 0, "number of concurrent workers (overrides config)")
	ingestCmd.Flags().Bool("resume", false, "only continue files already in the database")
	ingestCmd.Flags().Bool("no-progress", false, "disable the progress bar")

	viper.BindPFlag("source", ingestCmd.Flags().Lookup("source"))
}

func runIngest(cmd *cobra.Command, args []string) error {
	if c, _ := cmd.Flags().GetInt("concurrency"); c > 0 {
		viper.Set("concurrency", c)
	}
	resume, _ := cmd.Flags().GetBool("resume")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	e, err := openEnv(cmd, envOptions{pipeline: true, events: true, progress: !noProgress})
	if err != nil {
		return err
	}
	defer e.Close()
	e.provider.Watch()

	cfg := e.provider.Current()
	paths := args
	if len(paths) == 0 && !resume && cfg.Source != "" {
		paths = []string{cfg.Source}
	}
	if resume {
		paths = nil
	}

	if len(paths) > 0 {
		util.InfoLog("Ingesting %v", paths)
	} else {
		util.InfoLog("Resuming unfinished files")
	}
	util.InfoLog("Database: %s", cfg.DB)
	if e.events != nil {
		util.InfoLog("Event log: %s", e.events.Path())
	}

	result, runErr := e.pipeline.RunBatch(cmd.Context(), pipeline.BatchOptions{Paths: paths})

	if result != nil && result.Stats != nil {
		ctx := context.WithoutCancel(cmd.Context())
		rep, err := report.GenerateSummaryReport(ctx, e.store, result.Stats)
		if err != nil {
			util.WarnLog("Failed to build summary: %v", err)
		} else {
			rep.DatabasePath = cfg.DB
			rep.EventLogPath = e.events.Path()
			out := summaryPath(cfg.ArtifactsDir, result.RunID)
			if err := report.WriteMarkdownReport(rep, out); err != nil {
				util.WarnLog("Failed to write summary: %v", err)
			} else {
				util.InfoLog("Summary written to %s", out)
			}
		}
	}

	if runErr != nil {
		return runErr
	}
	if len(result.Violations) > 0 {
		return fmt.Errorf("%d review queue inconsistencies found", len(result.Violations))
	}
	if result.Failed > 0 {
		util.WarnLog("%d files failed; see the event log, then run 'mediaorg requeue' to retry extraction failures", result.Failed)
	}
	return nil
}
