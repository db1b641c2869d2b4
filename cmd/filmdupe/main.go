package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"filmdupe/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "filmdupe",
		Short:   "Find duplicate and near-duplicate video files",
		Version: version + " (" + commit + ")",
	}

	root.AddCommand(newScanCmd())

	if err := root.Execute(); err != nil {
		return exitCode(err)
	}
	return 0
}

// exitCode maps a command error to the process exit status documented for
// the scan subcommand: 0 success, 1 generic/config error, 2 cache/IO
// failure at startup, 3 missing external resource (ffprobe/ffmpeg), 130
// interrupted via SIGINT.
func exitCode(err error) int {
	var cfgErr *config.ConfigError
	var resErr *resourceExhaustion
	var ioErr *startupIOFailure
	var interruptErr *interrupted

	switch {
	case errors.As(err, &interruptErr):
		return 130
	case errors.As(err, &resErr):
		return 3
	case errors.As(err, &ioErr):
		return 2
	case errors.As(err, &cfgErr):
		return 1
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
}
