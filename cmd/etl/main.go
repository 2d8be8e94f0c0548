// Package main runs a one-shot load of a 311 CSV extract into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/citydata/nyc311/internal/config"
	"github.com/citydata/nyc311/internal/etl"
	"github.com/citydata/nyc311/internal/logging"
	"github.com/citydata/nyc311/internal/source"
	"github.com/citydata/nyc311/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	file := flag.String("file", "", "Path to a local CSV extract")
	url := flag.String("url", "", "HTTP(S) URL of a CSV extract")
	flag.Parse()

	// A .env file is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ref := *file
	if ref == "" {
		ref = *url
	}
	if ref == "" {
		fmt.Fprintln(os.Stderr, "one of -file or -url is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, ref); err != nil {
		logger.Error("load failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, ref string) error {
	store, err := postgres.NewStore(ctx, postgres.StoreConfig{
		DSN:      cfg.DB.DSN(),
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	src, err := source.Open(ctx, source.NewClient(10*time.Minute), ref)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			logger.Warn("close source failed", zap.Error(closeErr))
		}
	}()

	loader, err := etl.New(store, cfg.Loader.BatchSize, logger.Named("loader"), nil)
	if err != nil {
		return err
	}

	logger.Info("load started",
		zap.String("source", ref),
		zap.Int("batch_size", cfg.Loader.BatchSize),
	)
	_, err = loader.Run(ctx, src)
	return err
}
