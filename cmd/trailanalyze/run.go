package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"trailstats/internal/analysis"
	"trailstats/internal/config"
	"trailstats/internal/elevation"
	"trailstats/internal/ingest"
	"trailstats/internal/srtm"
)

type runOptions struct {
	Config      config.Config
	SRTMDir     string
	Concurrency int
	JSON        bool
	GeoJSONDir  string
	NoElevation bool
	Quiet       bool
	Out         io.Writer
}

type fileResult struct {
	path   string
	result analysis.TrackAnalysis
	ok     bool
}

// run analyzes every file, prints the results in argument order and returns
// the failures of all files that could not be analyzed.
func run(ctx context.Context, paths []string, opts runOptions) error {
	analyzer := &analysis.Analyzer{
		Options: analysis.Options{
			Pauses:    opts.Config.PauseOptions(),
			Elevation: opts.Config.ProfileOptions(),
		},
	}
	if !opts.NoElevation {
		analyzer.Tiles = elevation.NewTileCache(&srtm.Client{
			Dir:         opts.SRTMDir,
			BaseURL:     opts.Config.SRTMURL,
			MirrorURLs:  opts.Config.SRTMURLs,
			Timeout:     opts.Config.SRTMTimeout(),
			MaxAttempts: opts.Config.SRTMMaxAttempts,
		}, elevation.CacheOptions{Size: opts.Config.TileCacheSize, TTL: opts.Config.TileCacheTTL()})
	}
	if opts.GeoJSONDir != "" {
		if err := os.MkdirAll(opts.GeoJSONDir, 0o755); err != nil {
			return err
		}
	}

	bar := progressbar.DefaultSilent(int64(len(paths)))
	if !opts.Quiet {
		bar = progressbar.Default(int64(len(paths)), "Analyzing")
	}

	results := make([]fileResult, len(paths))
	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, path := range paths {
		g.Go(func() error {
			defer bar.Add(1)
			result, err := analyzeFile(gctx, analyzer, path, opts.GeoJSONDir)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", path, err))
				mu.Unlock()
				return nil
			}
			results[i] = fileResult{path: path, result: result, ok: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	bar.Finish()

	enc := json.NewEncoder(opts.Out)
	for _, r := range results {
		if !r.ok {
			continue
		}
		if opts.JSON {
			if err := enc.Encode(r.result); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(opts.Out, "%s: %s\n", filepath.Base(r.path), r.result.Summary())
	}

	if err := errs.ErrorOrNil(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

func analyzeFile(ctx context.Context, analyzer *analysis.Analyzer, path, geojsonDir string) (analysis.TrackAnalysis, error) {
	rec, err := ingest.ParseFile(path)
	if err != nil {
		return analysis.TrackAnalysis{}, err
	}
	result, err := analyzer.Analyze(ctx, rec.Points, rec.Metadata())
	if err != nil {
		return analysis.TrackAnalysis{}, err
	}
	if geojsonDir == "" {
		return result, nil
	}

	fc, err := analysis.Display(rec.Points, result.Pauses)
	if err != nil {
		return analysis.TrackAnalysis{}, err
	}
	out, err := fc.MarshalJSON()
	if err != nil {
		return analysis.TrackAnalysis{}, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".geojson"
	if err := os.WriteFile(filepath.Join(geojsonDir, name), out, 0o644); err != nil {
		return analysis.TrackAnalysis{}, err
	}
	return result, nil
}
