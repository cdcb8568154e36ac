package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/franz/media-organizer/internal/config"
	"github.com/franz/media-organizer/internal/musicbrainz"
	"github.com/franz/media-organizer/internal/pipeline"
	"github.com/franz/media-organizer/internal/report"
	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	envKeyReplacer = strings.NewReplacer(".", "_")

	rootCmd = &cobra.Command{
		Use:   "mediaorg",
		Short: "Media Organizer - identify media files against a reference catalog",
		Long: `mediaorg fingerprints audio and video files, matches them against a catalog
of known works and scores each identification. Confident matches are accepted
or rejected automatically; the rest wait in a review queue, and every review
decision feeds the next version of the scoring model.`,
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.SetVerbose(viper.GetBool("verbose"))
			util.SetQuiet(viper.GetBool("quiet"))
		},
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/mediaorg.yaml)")
	rootCmd.PersistentFlags().String("db", "mediaorg-state.db", "state database file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("mediaorg")
		viper.SetConfigType("yaml")
	}

	// MEDIAORG_ROUTER_ACCEPT_THRESHOLD overrides router.accept_threshold
	viper.SetEnvPrefix("MEDIAORG")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

// env bundles what most commands need: the validated configuration, the
// open store and, when requested, a fully wired pipeline.
type env struct {
	provider *config.Provider
	store    *store.Store
	events   *report.EventLogger
	mb       *musicbrainz.Client
	pipeline *pipeline.Pipeline
}

type envOptions struct {
	pipeline bool // build the pipeline
	events   bool // write a JSONL event log
	progress bool
}

func openEnv(cmd *cobra.Command, opts envOptions) (*env, error) {
	provider, err := config.NewProvider(viper.GetViper())
	if err != nil {
		return nil, err
	}
	cfg := provider.Current()

	db, err := store.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	e := &env{provider: provider, store: db}
	if !opts.pipeline {
		return e, nil
	}

	if opts.events {
		logLevel := report.LevelInfo
		if viper.GetBool("verbose") {
			logLevel = report.LevelDebug
		}
		e.events, err = report.NewEventLogger(cfg.ArtifactsDir, logLevel)
		if err != nil {
			util.WarnLog("Failed to create event logger: %v", err)
			e.events = report.NullLogger()
		}
	}

	pcfg := &pipeline.Config{
		Store:    db,
		Provider: provider,
		Events:   e.events,
		Progress: opts.progress,
	}
	if cfg.Metadata.MusicBrainz {
		e.mb = musicbrainz.NewClient(musicbrainz.Options{
			BaseURL:   cfg.Metadata.BaseURL,
			Timeout:   cfg.Metadata.Timeout,
			RateLimit: cfg.Metadata.RateLimit,
		})
		cache := musicbrainz.NewCache(db.DB(), e.mb, cfg.Metadata.CacheTTL)
		if err := cache.EnsureSchema(cmd.Context()); err != nil {
			util.WarnLog("MusicBrainz cache unavailable, lookups disabled: %v", err)
		} else {
			pcfg.Lookup = cache
		}
	}
	e.pipeline = pipeline.New(pcfg)
	return e, nil
}

func (e *env) Close() {
	if e.mb != nil {
		e.mb.Close()
	}
	if e.events != nil {
		e.events.Close()
	}
	e.store.Close()
}

// summaryPath is where the Markdown summary of a run is written.
func summaryPath(artifactsDir, runID string) string {
	return filepath.Join(artifactsDir, fmt.Sprintf("summary-%s.md", runID))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
