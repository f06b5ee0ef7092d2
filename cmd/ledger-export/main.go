package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stockroom/internal/adapter/archive"
	"github.com/rl1809/stockroom/internal/adapter/storage"
	"github.com/rl1809/stockroom/internal/config"
	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/core/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ledger-export:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a config file")
	userID := flag.String("user", "", "owner user id to export as")
	orgID := flag.String("org", "", "organization id; defaults to the user's first membership")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall export timeout")
	flag.Parse()

	if *userID == "" {
		return fmt.Errorf("-user is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is not configured")
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, closeStore, err := storage.OpenStore(ctx, cfg.Database.Driver, cfg.Database.DSN, false)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	bucket, err := archive.New(ctx, archive.Config{
		Bucket:    cfg.Archive.Bucket,
		Region:    cfg.Archive.Region,
		Endpoint:  cfg.Archive.Endpoint,
		PathStyle: cfg.Archive.PathStyle,
	})
	if err != nil {
		return err
	}

	members := service.NewMembershipService(store, service.WithLogger(logger))
	exporter := service.NewLedgerExporter(store, bucket, members, service.WithLogger(logger))

	res, err := exporter.Export(ctx, domain.Caller{UserID: *userID, OrgID: *orgID})
	if err != nil {
		logger.Error("ledger export failed", zap.String("user_id", *userID), zap.Error(err))
		return err
	}
	fmt.Printf("exported %d transactions to s3://%s/%s\n", res.Transactions, cfg.Archive.Bucket, res.Key)
	return nil
}
