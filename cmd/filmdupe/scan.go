package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"filmdupe/internal/cache"
	"filmdupe/internal/config"
	"filmdupe/internal/phash"
	"filmdupe/internal/pipeline"
	"filmdupe/internal/prober"
	"filmdupe/internal/progress"
	"filmdupe/internal/report"
	"filmdupe/internal/scanner"
	"filmdupe/internal/types"
)

// resourceExhaustion marks a fatal startup failure to acquire a required
// external resource (the ffprobe/ffmpeg binaries) - mapped to exit code 3.
type resourceExhaustion struct{ err error }

func (e *resourceExhaustion) Error() string { return e.err.Error() }
func (e *resourceExhaustion) Unwrap() error { return e.err }

// interrupted marks a run that ended via cooperative cancellation (SIGINT) -
// mapped to exit code 130.
type interrupted struct{}

func (*interrupted) Error() string { return "interrupted" }

// startupIOFailure marks a failure to open the cache before the pipeline
// starts - mapped to exit code 2.
type startupIOFailure struct{ err error }

func (e *startupIOFailure) Error() string { return e.err.Error() }
func (e *startupIOFailure) Unwrap() error { return e.err }

// scanOptions holds CLI flags for the scan command, bound directly onto the
// config.Config fields the pipeline consumes.
type scanOptions struct {
	mode                 string
	minOverlapRatio      float64
	phashThreshold       int
	phashFramesMin       int
	phashFramesMax       int
	durationToleranceSec float64
	sameCodec            bool
	sameContainer        bool
	keepPolicy           string
	ioThreads            int
	cpuThreads           int
	cachePath            string
	artifactMode         string
	minSizeStr           string
	excludes             []string
	maxDepth             int
	noProgress           bool
	verbose              bool
	reportPath           string
	logFile              string
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{minSizeStr: "1M"}

	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Find duplicate and near-duplicate video files",
		Long: `Scans directories for exact, re-encoded, and partially-overlapping duplicate
videos using progressive hash elimination, metadata clustering, and
perceptual-hash frame comparison, then writes a JSON report naming a winner
to keep and the losers it supersedes in each duplicate group.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runScan(args, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.mode, "mode", string(config.ModeBalanced), "Scan depth: fast, balanced, or thorough")
	flags.Float64Var(&opts.minOverlapRatio, "min-overlap-ratio", 0, "Minimum fraction of the longer video that must overlap to count as a subset match (default 0.10)")
	flags.IntVar(&opts.phashThreshold, "phash-threshold", 0, "Max Hamming distance between frame hashes to count as a match (default 12)")
	flags.IntVar(&opts.phashFramesMin, "phash-frames-min", 0, "Minimum sampled frames per video (default by mode)")
	flags.IntVar(&opts.phashFramesMax, "phash-frames-max", 0, "Maximum sampled frames per video (default by mode)")
	flags.Float64Var(&opts.durationToleranceSec, "duration-tolerance-sec", 0, "Duration difference tolerance for metadata clustering (default 2.0)")
	flags.BoolVar(&opts.sameCodec, "same-codec", false, "Require matching codec for metadata clustering")
	flags.BoolVar(&opts.sameContainer, "same-container", false, "Require matching container for metadata clustering")
	flags.StringVar(&opts.keepPolicy, "keep-policy", string(config.KeepBestQuality), "Which duplicate to keep: best_quality, oldest, newest, smallest, largest")
	flags.IntVar(&opts.ioThreads, "io-threads", 0, "Concurrent I/O-bound workers (default: NumCPU)")
	flags.IntVar(&opts.cpuThreads, "cpu-threads", 0, "Concurrent CPU-bound workers (default: NumCPU)")
	flags.StringVar(&opts.cachePath, "cache-path", "", "Path to the hash/fingerprint cache file (default: filmdupe-cache.db)")
	flags.StringVar(&opts.artifactMode, "artifact-mode", string(config.ArtifactSkip), "How to treat in-progress download/transcode files: skip, include, cleanup")
	flags.StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 1M, 100M, 1G)")
	flags.StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	flags.IntVar(&opts.maxDepth, "max-depth", 0, "Recursion depth limit below each root, 0 = unlimited")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug-level logging")
	flags.StringVar(&opts.reportPath, "report", "", "Path to write the JSON report (default: filmdupe-report.json)")
	flags.StringVar(&opts.logFile, "log-file", "", "Write logs to a file instead of stderr")

	return cmd
}

func runScan(paths []string, opts *scanOptions) error {
	minSize, err := parseSize(opts.minSizeStr)
	if err != nil {
		return &config.ConfigError{Field: "min_size", Message: err.Error()}
	}
	if err := validateGlobPatterns(opts.excludes); err != nil {
		return &config.ConfigError{Field: "exclude", Message: err.Error()}
	}

	cfg := config.Config{
		Mode:                 config.Mode(opts.mode),
		MinOverlapRatio:      opts.minOverlapRatio,
		PHashThreshold:       opts.phashThreshold,
		PHashFramesMin:       opts.phashFramesMin,
		PHashFramesMax:       opts.phashFramesMax,
		DurationToleranceSec: opts.durationToleranceSec,
		SameCodec:            opts.sameCodec,
		SameContainer:        opts.sameContainer,
		KeepPolicy:           config.KeepPolicy(opts.keepPolicy),
		IOThreads:            opts.ioThreads,
		CPUThreads:           opts.cpuThreads,
		CachePath:            opts.cachePath,
		ArtifactMode:         config.ArtifactMode(opts.artifactMode),
		MinSize:              minSize,
		Excludes:             opts.excludes,
		NoProgress:           opts.noProgress,
		Verbose:              opts.verbose,
		ReportPath:           opts.reportPath,
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := config.SetupLogger(opts.logFile, cfg.Verbose)
	if err != nil {
		return fmt.Errorf("set up logger: %w", err)
	}
	slog.SetDefault(logger)

	showProgress := !cfg.NoProgress

	errCh := make(chan error, 100)
	go drainErrors(errCh)
	defer close(errCh)

	logger.Info("scanning", "paths", paths, "mode", cfg.Mode)
	files := scanner.New(paths, cfg.MinSize, cfg.Excludes, cfg.IOThreads, opts.maxDepth,
		cfg.ArtifactMode, showProgress, errCh).Run()
	logger.Info("scan complete", "files", len(files))

	// The concurrent walk yields files in arbitrary order; fix it by path so
	// two runs over an unchanged corpus feed the pipeline identically.
	files = types.NewSorted(files, func(f *types.FileMeta) string { return f.Path }).Items()

	if len(files) == 0 {
		return writeEmptyReport(cfg)
	}

	c, err := cache.Open(cfg.CachePath)
	if err != nil {
		return &startupIOFailure{err: fmt.Errorf("open cache: %w", err)}
	}
	closeCache := func() {
		if err := c.Close(); err != nil {
			logger.Warn("cache close failed", "error", err)
		}
	}

	vp, err := prober.New()
	if err != nil {
		closeCache()
		return &resourceExhaustion{err: fmt.Errorf("ffprobe unavailable: %w", err)}
	}
	fp, err := phash.New()
	if err != nil {
		closeCache()
		return &resourceExhaustion{err: fmt.Errorf("ffmpeg unavailable: %w", err)}
	}

	events := progress.NewEventStream(64)
	bar := progress.New(showProgress)
	go bar.Follow(events.Events())

	pl := pipeline.New(cfg, c, events, errCh, vp, fp)

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	go watchInterrupt(ctx, pl, closeCache)

	result := pl.Run(ctx, files)
	events.Close()
	bar.Finish("scan finished")

	closeCache()

	doc := report.Build(result.Groups, toReportFailures(result.Failures), result.Interrupted, result.ScanTimeSec)
	if err := report.Write(cfg.ReportPath, doc); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	logger.Info("report written", "path", cfg.ReportPath, "groups", doc.Summary.TotalGroups,
		"bytes_reclaimable", doc.Summary.BytesReclaimable)
	fmt.Printf("%d duplicate groups found, %s reclaimable, report written to %s\n",
		doc.Summary.TotalGroups, humanizeBytes(doc.Summary.BytesReclaimable), cfg.ReportPath)

	if result.Interrupted {
		return &interrupted{}
	}
	return nil
}

// watchInterrupt calls pl.Stop() on the first SIGINT/SIGTERM (cooperative
// cancellation: in-flight work drains, the cache flushes, and Run returns
// with Interrupted=true). A second signal within 2s of the first flushes the
// cache via flushCache and then exits the process immediately.
func watchInterrupt(ctx context.Context, pl *pipeline.Pipeline, flushCache func()) {
	<-ctx.Done()
	pl.Stop()
	fmt.Fprintln(os.Stderr, "\rinterrupt received, finishing in-flight work (press again within 2s to force quit)")

	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		fmt.Fprintln(os.Stderr, "\rforced quit")
		flushCache()
		os.Exit(130)
	case <-deadline.C:
	}
}

func writeEmptyReport(cfg config.Config) error {
	doc := report.Build(nil, nil, false, 0)
	return report.Write(cfg.ReportPath, doc)
}

func toReportFailures(failures []pipeline.FailureRecord) []report.Failure {
	out := make([]report.Failure, len(failures))
	for i, f := range failures {
		out[i] = report.Failure{Path: f.Path, Kind: f.Kind, Message: f.Message}
	}
	return out
}

func humanizeBytes(n int64) string {
	return humanize.IBytes(uint64(n))
}

// drainErrors consumes errors from a channel and writes them to stderr,
// clearing the progress line first to avoid visual collision.
func drainErrors(errs <-chan error) {
	for err := range errs {
		fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
	}
}
