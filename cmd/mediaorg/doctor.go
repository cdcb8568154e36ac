package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/media-organizer/internal/config"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure mediaorg can operate correctly.

This command checks:
- Configuration validity (thresholds, boost, training settings)
- ffmpeg and ffprobe (required for anything but WAV audio)
- SQLite version and database integrity
- The active scoring model and the reference catalog
- Source directory readability and free disk space

The database is created and migrated if it does not exist yet.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().String("src", "", "Source directory to check (optional)")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== mediaorg doctor ===")
	util.InfoLog("")

	var results []checkResult

	cfg, cfgCheck := checkConfig(viper.GetViper())
	results = append(results, cfgCheck)
	if cfg == nil {
		cfg = config.Default()
		cfg.DB = viper.GetString("db")
	}

	results = append(results, checkTool("ffmpeg", cfg.Extraction.FFmpegPath))
	results = append(results, checkTool("ffprobe", cfg.Extraction.FFprobePath))
	results = append(results, checkSQLite())
	results = append(results, checkDatabase(cmd.Context(), cfg.DB)...)

	srcPath, _ := cmd.Flags().GetString("src")
	if srcPath == "" {
		srcPath = cfg.Source
	}
	if srcPath != "" {
		results = append(results, checkSourceDirectory(srcPath))
		results = append(results, checkDiskSpace(srcPath, "source"))
	}
	results = append(results, checkDiskSpace(".", "working directory"))

	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false
	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += ": " + r.message
		}
		switch {
		case r.error:
			util.ErrorLog("%s", line)
		case r.warning:
			util.WarnLog("%s", line)
		default:
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Please resolve errors before running mediaorg.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed.")
	}
	return nil
}

// checkConfig validates the loaded settings. The returned config is nil
// when they are unusable.
func checkConfig(v *viper.Viper) (*config.Config, checkResult) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, checkResult{name: "Configuration", error: true, message: err.Error()}
	}
	src := "built-in defaults"
	if f := v.ConfigFileUsed(); f != "" {
		src = f
	}
	return cfg, checkResult{
		name: "Configuration",
		message: fmt.Sprintf("%s (accept %.2f, reject %.2f)", src,
			cfg.Router.AcceptThreshold, cfg.Router.RejectThreshold),
	}
}

// checkTool runs "<bin> -version" and reports the version it prints.
func checkTool(name, bin string) checkResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, bin, "-version").CombinedOutput()
	if err != nil {
		return checkResult{
			name:    name,
			warning: true,
			message: fmt.Sprintf("%s not found or not executable (only WAV audio can be fingerprinted)", bin),
		}
	}

	version := "unknown"
	lines := strings.Split(string(output), "\n")
	if parts := strings.Fields(lines[0]); len(parts) >= 3 {
		version = parts[2]
	}
	return checkResult{name: name, message: "version " + version}
}

func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{name: "SQLite", error: true, message: "unable to determine version"}
	}
	return checkResult{name: "SQLite", message: fmt.Sprintf("version %s (built-in)", version)}
}

// checkDatabase opens (creating and migrating if needed) the database and
// reports its integrity, active model and catalog size.
func checkDatabase(ctx context.Context, dbPath string) []checkResult {
	if dbPath == "" {
		return []checkResult{{
			name:    "Database",
			error:   true,
			message: "no database path specified (use --db flag or config)",
		}}
	}

	created := false
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		created = true
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return []checkResult{{name: "Database", error: true, message: fmt.Sprintf("cannot open %s: %v", dbPath, err)}}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return []checkResult{{name: "Database", error: true, message: fmt.Sprintf("integrity check failed: %v", err)}}
	}

	counts, err := db.CountByStatus(ctx)
	if err != nil {
		return []checkResult{{name: "Database", error: true, message: err.Error()}}
	}
	files := 0
	for _, n := range counts {
		files += n
	}
	msg := fmt.Sprintf("%s (%d files)", dbPath, files)
	if created {
		msg = fmt.Sprintf("%s (created)", dbPath)
	} else if info, err := os.Stat(dbPath); err == nil {
		msg = fmt.Sprintf("%s (%s, %d files)", dbPath, humanize.Bytes(uint64(info.Size())), files)
	}
	results := []checkResult{{name: "Database", message: msg}}

	active, err := db.GetActiveModel(ctx)
	switch {
	case err != nil:
		results = append(results, checkResult{name: "Scoring model", error: true, message: err.Error()})
	case active == nil:
		results = append(results, checkResult{
			name:    "Scoring model",
			warning: true,
			message: "no active model (run 'mediaorg model init')",
		})
	default:
		results = append(results, checkResult{
			name:    "Scoring model",
			message: fmt.Sprintf("v%d active (trained on %d samples)", active.Version, active.TrainingSize),
		})
	}

	works, err := db.ListWorks(ctx)
	switch {
	case err != nil:
		results = append(results, checkResult{name: "Catalog", error: true, message: err.Error()})
	case len(works) == 0:
		results = append(results, checkResult{
			name:    "Catalog",
			warning: true,
			message: "no works (every file will be rejected)",
		})
	default:
		results = append(results, checkResult{name: "Catalog", message: fmt.Sprintf("%d works", len(works))})
	}

	violations, err := db.CheckReviewInvariant(ctx)
	if err == nil && len(violations) > 0 {
		results = append(results, checkResult{
			name:    "Review queue",
			error:   true,
			message: fmt.Sprintf("%d inconsistencies (first: %s)", len(violations), violations[0]),
		})
	}
	return results
}

// checkSourceDirectory verifies source directory is readable
func checkSourceDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		return checkResult{name: "Source directory", error: true, message: fmt.Sprintf("cannot access %s: %v", path, err)}
	}
	if !info.IsDir() {
		return checkResult{name: "Source directory", error: true, message: fmt.Sprintf("%s is not a directory", path)}
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return checkResult{name: "Source directory", error: true, message: fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	return checkResult{name: "Source directory", message: fmt.Sprintf("%s (%d entries)", path, len(entries))}
}

// checkDiskSpace warns when the filesystem holding path runs low. The
// database and event logs grow with the library.
func checkDiskSpace(path string, label string) checkResult {
	name := fmt.Sprintf("Disk space (%s)", label)
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{name: name, warning: true, message: fmt.Sprintf("cannot determine disk space: %v", err)}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - stat.Bfree*uint64(stat.Bsize)

	var usedPercent float64
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}

	warning := false
	note := ""
	if availBytes < 1<<30 {
		warning = true
		note = " (low space!)"
	} else if usedPercent > 95 {
		warning = true
		note = " (>95% used)"
	}
	return checkResult{
		name:    name,
		warning: warning,
		message: fmt.Sprintf("%s available%s", humanize.IBytes(availBytes), note),
	}
}
