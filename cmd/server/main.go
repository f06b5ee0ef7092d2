package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/stockroom/internal/adapter/archive"
	"github.com/rl1809/stockroom/internal/adapter/handler"
	"github.com/rl1809/stockroom/internal/adapter/messaging"
	"github.com/rl1809/stockroom/internal/adapter/metrics"
	"github.com/rl1809/stockroom/internal/adapter/storage"
	"github.com/rl1809/stockroom/internal/config"
	"github.com/rl1809/stockroom/internal/core/service"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize store
	store, closeStore, err := storage.OpenStore(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Migrate)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	logger.Info("store ready", zap.String("driver", cfg.Database.Driver))

	recorder := metrics.NewRecorder()
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithRecorder(recorder),
	}

	// Initialize Redis
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		opts = append(opts, service.WithReplayCache(storage.NewRedisAdapter(rdb, cfg.Redis.TTL)))
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize Kafka
	var producer *messaging.KafkaProducer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = messaging.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		opts = append(opts, service.WithEventPublisher(producer))
		logger.Info("publishing stock events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Initialize services
	members := service.NewMembershipService(store, opts...)
	batches := service.NewBatchService(store, members, opts...)
	queries := service.NewQueryService(store, members, opts...)
	catalog := service.NewCatalogService(store, members, opts...)

	var ledger *service.LedgerExporter
	if cfg.Archive.Bucket != "" {
		bucket, err := archive.New(ctx, archive.Config{
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			PathStyle: cfg.Archive.PathStyle,
		})
		if err != nil {
			logger.Fatal("failed to init ledger archive", zap.Error(err))
		}
		ledger = service.NewLedgerExporter(store, bucket, members, opts...)
	}

	auth := handler.NewAuthenticator(cfg.Auth.JWTSecret)

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.AuthInterceptor(auth)))
	handler.RegisterStockServer(grpcServer, handler.NewGRPCHandler(batches, queries, logger))

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.Server.GRPCAddr), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(batches, queries, catalog, ledger, logger)
	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      httpHandler.Router(auth, recorder.Handler()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}
	if rdb != nil {
		rdb.Close()
	}
	if err := closeStore(); err != nil {
		logger.Warn("failed to close store", zap.Error(err))
	}
	logger.Info("connections closed")
}
