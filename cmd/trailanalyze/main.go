package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"trailstats/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "trailanalyze [files...]",
		Short: "Analyze GPX and FIT recordings",
		Long: `Analyze GPX and FIT recordings offline: pauses, moving distance and time,
and an elevation profile from SRTM tiles kept in --srtm-dir.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(".env")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cmd.Flags().Changed("srtm-dir") {
				opts.SRTMDir = cfg.SRTMDir
			}
			opts.Config = cfg
			opts.Out = cmd.OutOrStdout()
			return run(cmd.Context(), args, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.SRTMDir, "srtm-dir", "srtm", "directory holding SRTM tiles")
	flags.IntVarP(&opts.Concurrency, "concurrency", "c", runtime.NumCPU(), "files analyzed in parallel")
	flags.BoolVar(&opts.JSON, "json", false, "print full analyses as JSON lines")
	flags.StringVar(&opts.GeoJSONDir, "geojson-dir", "", "write a display GeoJSON per file into this directory")
	flags.BoolVar(&opts.NoElevation, "no-elevation", false, "skip the elevation profile")
	flags.BoolVar(&opts.Quiet, "quiet", false, "hide the progress bar")
	return cmd
}
