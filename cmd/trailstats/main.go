package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trailstats/internal/analysis"
	"trailstats/internal/config"
	"trailstats/internal/elevation"
	"trailstats/internal/ingest"
	"trailstats/internal/processor"
	"trailstats/internal/srtm"
	"trailstats/internal/storage"
	"trailstats/internal/web"
	"trailstats/internal/worker"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	if err := store.InitSchema(context.Background()); err != nil {
		log.Fatalf("init schema: %v", err)
	}

	tiles := elevation.NewTileCache(&srtm.Client{
		Dir:         cfg.SRTMDir,
		BaseURL:     cfg.SRTMURL,
		MirrorURLs:  cfg.SRTMURLs,
		Timeout:     cfg.SRTMTimeout(),
		MaxAttempts: cfg.SRTMMaxAttempts,
	}, elevation.CacheOptions{Size: cfg.TileCacheSize, TTL: cfg.TileCacheTTL()})

	analyzer := &analysis.Analyzer{
		Tiles: tiles,
		Options: analysis.Options{
			Pauses:    cfg.PauseOptions(),
			Elevation: cfg.ProfileOptions(),
		},
	}
	queueWorker := &worker.Worker{
		Store:     store,
		Processor: &processor.AnalysisProcessor{Store: store, Analyzer: analyzer},
	}
	webServer := web.NewServer(store, &ingest.Importer{Store: store})

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      webServer.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runService(ctx, server, queueWorker, cfg.WorkerPollInterval()); err != nil {
		log.Printf("http server error: %v", err)
	}
}

// runService serves HTTP and drains the analysis queue until ctx is done or
// the listener fails. It returns only after the worker has stopped, so the
// store can be closed afterwards.
func runService(ctx context.Context, server *http.Server, w *worker.Worker, poll time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", server.Addr)
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
		cancel()
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Run(ctx, poll)
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = server.Shutdown(shutdownCtx)

	<-workerDone
	return <-serveErr
}
