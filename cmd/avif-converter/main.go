// Command avif-converter serves the image conversion API backed by a
// content-addressed cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	avif "github.com/oittaa/avif-converter"
	"github.com/oittaa/avif-converter/cache"
	"github.com/oittaa/avif-converter/convert"
	"github.com/oittaa/avif-converter/fetch"
	"github.com/oittaa/avif-converter/internal/config"
	"github.com/oittaa/avif-converter/server"
	"github.com/oittaa/avif-converter/store/badger"
	"github.com/oittaa/avif-converter/store/gcs"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	cc := cache.NewContentCache(store,
		cache.WithAccelerator(cfg.AcceleratorSize),
		cache.WithLogger(logger),
	)
	fetcher := fetch.NewClient(
		fetch.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}),
		fetch.WithMaxSize(cfg.FetchMaxSize),
	)
	resolver := avif.NewResolver(cc, convert.NewMagick(convert.WithLogger(logger)),
		avif.WithFetcher(fetcher),
		avif.WithTTL(cfg.TTL()),
		avif.WithLogger(logger),
	)
	srv := server.New(resolver, cc,
		server.WithTitle(cfg.Title),
		server.WithBaseURL(cfg.BaseURL),
		server.WithCacheMaxAge(cfg.TTL()),
		server.WithMaxUploadSize(cfg.FetchMaxSize),
		server.WithLogger(logger),
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// openStore selects the remote blob store: GCS when a bucket is
// configured, an embedded Badger database when a cache directory is, and
// no store at all otherwise. Running storeless is supported; every request
// then converts fresh.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (cache.BlobStore, func(), error) {
	switch {
	case cfg.Bucket != "":
		s, err := gcs.New(ctx, cfg.Bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("open gcs store: %w", err)
		}
		logger.Info("using gcs store", "bucket", cfg.Bucket)
		return s, func() { _ = s.Close() }, nil

	case cfg.CacheDir != "":
		s, err := badger.Open(cfg.CacheDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger store: %w", err)
		}
		logger.Info("using badger store", "dir", cfg.CacheDir)
		return s, func() { _ = s.Close() }, nil

	default:
		logger.Warn("no store configured, conversions will not be cached")
		return nil, nil, nil
	}
}
