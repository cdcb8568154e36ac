// Package config loads, validates and hot-reloads pipeline settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/franz/media-organizer/internal/util"
	"github.com/spf13/viper"
)

// CurrentFeatureSchema is the only feature vector layout this build emits.
const CurrentFeatureSchema = 1

// Config is an immutable snapshot of the pipeline settings.
type Config struct {
	DB           string `mapstructure:"db"`
	Source       string `mapstructure:"source"`
	Concurrency  int    `mapstructure:"concurrency"`
	ArtifactsDir string `mapstructure:"artifacts_dir"`

	Extraction ExtractionConfig `mapstructure:"extraction"`
	Features   FeaturesConfig   `mapstructure:"features"`
	Matching   MatchingConfig   `mapstructure:"matching"`
	Router     RouterConfig     `mapstructure:"router"`
	Boost      BoostConfig      `mapstructure:"boost"`
	Training   TrainingConfig   `mapstructure:"training"`
	Metadata   MetadataConfig   `mapstructure:"metadata"`
	Retry      RetryConfig      `mapstructure:"retry"`
}

type ExtractionConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	FFmpegPath  string        `mapstructure:"ffmpeg_path"`
	FFprobePath string        `mapstructure:"ffprobe_path"`
	VideoFPS    int           `mapstructure:"video_fps"`
}

type FeaturesConfig struct {
	SchemaVersion int `mapstructure:"schema_version"`
}

type MatchingConfig struct {
	MinSimilarity           float64 `mapstructure:"min_similarity"`
	TopK                    int     `mapstructure:"top_k"`
	MaxHamming              int     `mapstructure:"max_hamming"`
	CorroborationSimilarity float64 `mapstructure:"corroboration_similarity"`
}

// RouterConfig holds the auto-accept and auto-reject cut-offs.
type RouterConfig struct {
	AcceptThreshold float64 `mapstructure:"accept_threshold"`
	RejectThreshold float64 `mapstructure:"reject_threshold"`
}

// BoostConfig describes the genre/region confidence boost.
type BoostConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Amount        float64  `mapstructure:"amount"`
	MinIndication float64  `mapstructure:"min_indication"`
	Genres        []string `mapstructure:"genres"`
	Regions       []string `mapstructure:"regions"`
	Languages     []string `mapstructure:"languages"`
	Keywords      []string `mapstructure:"keywords"`
}

type TrainingConfig struct {
	Epochs       int     `mapstructure:"epochs"`
	LearningRate float64 `mapstructure:"learning_rate"`
	L2           float64 `mapstructure:"l2"`
	MinSamples   int     `mapstructure:"min_samples"`
	MinAccuracy  float64 `mapstructure:"min_accuracy"`
	// RetrainInterval triggers retraining once this many feedback rows
	// have not been used by any model. 0 disables it.
	RetrainInterval int `mapstructure:"retrain_interval"`
}

type MetadataConfig struct {
	MusicBrainz bool          `mapstructure:"musicbrainz"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   time.Duration `mapstructure:"rate_limit"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	InitialWait time.Duration `mapstructure:"initial_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
}

// SetDefaults registers every key with its default so env vars and
// partial config files resolve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db", "mediaorg-state.db")
	v.SetDefault("source", "")
	v.SetDefault("concurrency", 4)
	v.SetDefault("artifacts_dir", "artifacts")

	v.SetDefault("extraction.timeout", 2*time.Minute)
	v.SetDefault("extraction.ffmpeg_path", "ffmpeg")
	v.SetDefault("extraction.ffprobe_path", "ffprobe")
	v.SetDefault("extraction.video_fps", 1)

	v.SetDefault("features.schema_version", CurrentFeatureSchema)

	v.SetDefault("matching.min_similarity", 0.5)
	v.SetDefault("matching.top_k", 5)
	v.SetDefault("matching.max_hamming", 10)
	v.SetDefault("matching.corroboration_similarity", 0.9)

	v.SetDefault("router.accept_threshold", 0.85)
	v.SetDefault("router.reject_threshold", 0.30)

	v.SetDefault("boost.enabled", true)
	v.SetDefault("boost.amount", 0.10)
	v.SetDefault("boost.min_indication", 0.8)
	v.SetDefault("boost.genres", []string{"italian pop", "canzone italiana", "cantautori", "musica leggera", "italo disco"})
	v.SetDefault("boost.regions", []string{"IT", "SM", "VA"})
	v.SetDefault("boost.languages", []string{"it", "ita"})
	v.SetDefault("boost.keywords", []string{
		"amore", "cuore", "canzone", "notte", "sole", "mare", "vita", "bella",
		"della", "nel", "che", "non", "per", "una", "sono", "il", "la", "di", "e",
	})

	v.SetDefault("training.epochs", 400)
	v.SetDefault("training.learning_rate", 0.3)
	v.SetDefault("training.l2", 0.001)
	v.SetDefault("training.min_samples", 20)
	v.SetDefault("training.min_accuracy", 0.6)
	v.SetDefault("training.retrain_interval", 100)

	v.SetDefault("metadata.musicbrainz", true)
	v.SetDefault("metadata.base_url", "https://musicbrainz.org/ws/2")
	v.SetDefault("metadata.timeout", 30*time.Second)
	v.SetDefault("metadata.rate_limit", time.Second)
	v.SetDefault("metadata.cache_ttl", 30*24*time.Hour)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_wait", 200*time.Millisecond)
	v.SetDefault("retry.max_wait", 5*time.Second)
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", util.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if p := c.Router.problem(); p != "" {
		problems = append(problems, p)
	}
	if c.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("concurrency must be >= 1 (got %d)", c.Concurrency))
	}
	if c.Extraction.Timeout <= 0 {
		problems = append(problems, "extraction.timeout must be positive")
	}
	if c.Extraction.VideoFPS < 1 {
		problems = append(problems, "extraction.video_fps must be >= 1")
	}
	if c.Features.SchemaVersion != CurrentFeatureSchema {
		problems = append(problems, fmt.Sprintf("features.schema_version %d is not supported (want %d)",
			c.Features.SchemaVersion, CurrentFeatureSchema))
	}
	if c.Matching.MinSimilarity <= 0 || c.Matching.MinSimilarity >= 1 {
		problems = append(problems, "matching.min_similarity must be in (0,1)")
	}
	if c.Matching.TopK < 1 {
		problems = append(problems, "matching.top_k must be >= 1")
	}
	if c.Matching.MaxHamming < 0 || c.Matching.MaxHamming > 32 {
		problems = append(problems, "matching.max_hamming must be in [0,32]")
	}
	if c.Matching.CorroborationSimilarity <= 0 || c.Matching.CorroborationSimilarity > 1 {
		problems = append(problems, "matching.corroboration_similarity must be in (0,1]")
	}
	if c.Boost.Amount < 0 || c.Boost.Amount > 0.5 {
		problems = append(problems, fmt.Sprintf("boost.amount must be in [0,0.5] (got %.3f)", c.Boost.Amount))
	}
	if c.Boost.MinIndication < 0 || c.Boost.MinIndication > 1 {
		problems = append(problems, "boost.min_indication must be in [0,1]")
	}
	if c.Training.Epochs < 1 || c.Training.LearningRate <= 0 || c.Training.L2 < 0 {
		problems = append(problems, "training epochs/learning_rate/l2 out of range")
	}
	if c.Training.RetrainInterval < 0 {
		problems = append(problems, "training.retrain_interval must be >= 0")
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be >= 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", util.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Validate checks 0 <= reject < accept <= 1.
func (r RouterConfig) Validate() error {
	if p := r.problem(); p != "" {
		return fmt.Errorf("%w: %s", util.ErrInvalidConfig, p)
	}
	return nil
}

func (r RouterConfig) problem() string {
	if r.AcceptThreshold < 0 || r.AcceptThreshold > 1 || r.RejectThreshold < 0 || r.RejectThreshold > 1 {
		return fmt.Sprintf("thresholds must be within [0,1] (accept=%.3f reject=%.3f)",
			r.AcceptThreshold, r.RejectThreshold)
	}
	if r.AcceptThreshold <= r.RejectThreshold {
		return fmt.Sprintf("accept threshold %.3f must exceed reject threshold %.3f",
			r.AcceptThreshold, r.RejectThreshold)
	}
	return ""
}

// RetryPolicy converts the retry section for util.RetryWithBackoff.
func (c *Config) RetryPolicy() *util.RetryConfig {
	return &util.RetryConfig{
		MaxAttempts: c.Retry.MaxAttempts,
		InitialWait: c.Retry.InitialWait,
		MaxWait:     c.Retry.MaxWait,
	}
}
