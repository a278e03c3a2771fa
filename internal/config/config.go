package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/frameprep/internal/constants"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "FRAMEPREP_"

type Config struct {
	Sampler     SamplerConfig `yaml:"sampler" envPrefix:"SAMPLER_"`
	Dedupe      DedupeConfig  `yaml:"dedupe" envPrefix:"DEDUPE_"`
	FFmpeg      FFmpegConfig  `yaml:"ffmpeg" envPrefix:"FFMPEG_"`
	Log         LogConfig     `yaml:"log" envPrefix:"LOG_"`
	MetricsFile string        `yaml:"metrics_file" env:"METRICS_FILE"`
}

type SamplerConfig struct {
	InputDir       string `yaml:"input_dir" env:"INPUT_DIR"`
	OutputDir      string `yaml:"output_dir" env:"OUTPUT_DIR"`
	FramesPerVideo int    `yaml:"frames_per_video" env:"FRAMES_PER_VIDEO"`
	Format         string `yaml:"format" env:"FORMAT"`        // jpg, png or bmp
	JPEGQuality    int    `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
	ASCIILabels    bool   `yaml:"ascii_labels" env:"ASCII_LABELS"` // strip diacritics from video labels
	DedupeSchedule bool   `yaml:"dedupe_schedule" env:"DEDUPE_SCHEDULE"`
}

type DedupeConfig struct {
	Dir       string        `yaml:"dir" env:"DIR"`
	Threshold float64       `yaml:"threshold" env:"THRESHOLD"`
	Workers   int           `yaml:"workers" env:"WORKERS"` // 0 means runtime.NumCPU()
	DryRun    bool          `yaml:"dry_run" env:"DRY_RUN"`
	CacheTTL  time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// WorkerCount returns the effective number of comparison workers.
func (c *DedupeConfig) WorkerCount() int {
	if c.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}

type FFmpegConfig struct {
	Path         string        `yaml:"path" env:"PATH"`
	ProbePath    string        `yaml:"probe_path" env:"PROBE_PATH"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// Load builds the configuration from the embedded defaults, the optional YAML
// file at path and FRAMEPREP_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		// The defaults are embedded, so this is a build problem.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

// ValidateSampler checks the settings used by the frame sampler.
func (c *Config) ValidateSampler() error {
	s := c.Sampler
	var errs []error
	if s.InputDir == "" {
		errs = append(errs, errors.New("input directory is required"))
	}
	if s.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if s.FramesPerVideo <= 0 {
		errs = append(errs, fmt.Errorf("frames per video must be positive, got %d", s.FramesPerVideo))
	}
	if !slices.Contains(constants.FrameFormats, s.Format) {
		errs = append(errs, fmt.Errorf("unsupported frame format %q (want one of %v)", s.Format, constants.FrameFormats))
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality must be between 1 and 100, got %d", s.JPEGQuality))
	}
	return errors.Join(errs...)
}

// ValidateDedupe checks the settings used by the duplicate filter.
func (c *Config) ValidateDedupe() error {
	d := c.Dedupe
	var errs []error
	if d.Dir == "" {
		errs = append(errs, errors.New("image directory is required"))
	}
	if math.IsNaN(d.Threshold) || d.Threshold < 0 || d.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold must be within [0, 1], got %g", d.Threshold))
	}
	if d.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", d.Workers))
	}
	if d.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache ttl must not be negative, got %s", d.CacheTTL))
	}
	return errors.Join(errs...)
}
