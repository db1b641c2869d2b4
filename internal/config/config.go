// Package config holds the pipeline's configuration surface: defaults,
// validation, and logger setup.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
)

// Mode selects the FrameSampler schedule and whether subset detection runs.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeBalanced Mode = "balanced"
	ModeThorough Mode = "thorough"
)

// KeepPolicy selects which group member survives when duplicates are found.
type KeepPolicy string

const (
	KeepBestQuality KeepPolicy = "best_quality"
	KeepOldest      KeepPolicy = "oldest"
	KeepNewest      KeepPolicy = "newest"
	KeepSmallest    KeepPolicy = "smallest"
	KeepLargest     KeepPolicy = "largest"
)

// ArtifactMode controls how partially-downloaded/in-progress files are treated.
type ArtifactMode string

const (
	ArtifactSkip    ArtifactMode = "skip"
	ArtifactInclude ArtifactMode = "include"
	ArtifactCleanup ArtifactMode = "cleanup"
)

// Config is the full set of recognized pipeline options, bound to CLI flags
// by cmd/filmdupe's scan subcommand.
type Config struct {
	Mode                 Mode
	MinOverlapRatio      float64
	PHashThreshold       int
	PHashFramesMin       int
	PHashFramesMax       int
	DurationToleranceSec float64
	SameCodec            bool
	SameContainer        bool
	KeepPolicy           KeepPolicy
	IOThreads            int
	CPUThreads           int
	CachePath            string
	ArtifactMode         ArtifactMode
	MinSize              int64
	Excludes             []string
	NoProgress           bool
	Verbose              bool
	ReportPath           string
}

// SetDefaults populates zero-valued fields with the pipeline's defaults.
// Safe to call on a partially-populated Config (e.g. after flag binding only
// overrides some fields) since it only fills fields still at their zero value.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = ModeBalanced
	}
	if c.MinOverlapRatio == 0 {
		c.MinOverlapRatio = 0.10
	}
	if c.PHashThreshold == 0 {
		c.PHashThreshold = 12
	}
	// PHashFramesMin/Max stay zero unless set: zero means "use the frame
	// sampler's per-mode table bounds" rather than a per-video override.
	if c.DurationToleranceSec == 0 {
		c.DurationToleranceSec = 2.0
	}
	if c.KeepPolicy == "" {
		c.KeepPolicy = KeepBestQuality
	}
	if c.IOThreads == 0 {
		c.IOThreads = runtime.NumCPU()
	}
	if c.CPUThreads == 0 {
		c.CPUThreads = runtime.NumCPU()
	}
	if c.CachePath == "" {
		c.CachePath = "filmdupe-cache.db"
	}
	if c.ArtifactMode == "" {
		c.ArtifactMode = ArtifactSkip
	}
	if c.ReportPath == "" {
		c.ReportPath = "filmdupe-report.json"
	}
}

// ConfigError describes an invalid configuration, fatal at startup.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks field invariants, returning the first violation found as a
// *ConfigError, or nil if the configuration is usable.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeFast, ModeBalanced, ModeThorough:
	default:
		return &ConfigError{Field: "mode", Message: fmt.Sprintf("unrecognized mode %q", c.Mode)}
	}
	if c.MinOverlapRatio < 0 || c.MinOverlapRatio > 1.0 {
		return &ConfigError{Field: "min_overlap_ratio", Message: "must be in [0,1]"}
	}
	if c.PHashThreshold < 0 || c.PHashThreshold > 64 {
		return &ConfigError{Field: "phash_threshold", Message: "must be in [0,64]"}
	}
	if c.PHashFramesMin < 0 || c.PHashFramesMax < 0 {
		return &ConfigError{Field: "phash_frames", Message: "bounds must be non-negative"}
	}
	if c.PHashFramesMax > 0 && c.PHashFramesMax < c.PHashFramesMin {
		return &ConfigError{Field: "phash_frames", Message: "min must not exceed max"}
	}
	if c.DurationToleranceSec < 0 {
		return &ConfigError{Field: "duration_tolerance_sec", Message: "must be non-negative"}
	}
	switch c.KeepPolicy {
	case KeepBestQuality, KeepOldest, KeepNewest, KeepSmallest, KeepLargest:
	default:
		return &ConfigError{Field: "keep_policy", Message: fmt.Sprintf("unrecognized policy %q", c.KeepPolicy)}
	}
	switch c.ArtifactMode {
	case ArtifactSkip, ArtifactInclude, ArtifactCleanup:
	default:
		return &ConfigError{Field: "artifact_mode", Message: fmt.Sprintf("unrecognized mode %q", c.ArtifactMode)}
	}
	if c.IOThreads <= 0 || c.CPUThreads <= 0 {
		return &ConfigError{Field: "threads", Message: "io_threads and cpu_threads must be positive"}
	}
	if c.MinSize < 0 {
		return &ConfigError{Field: "min_size", Message: "must be non-negative"}
	}
	return nil
}

// SetupLogger builds the slog logger for the run. An empty logFilePath logs
// to stderr; verbose enables debug-level output.
func SetupLogger(logFilePath string, verbose bool) (*slog.Logger, error) {
	var out io.Writer = os.Stderr
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), nil
}
