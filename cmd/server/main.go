package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perfume-store/config"
	"perfume-store/internal/api"
	"perfume-store/internal/broker"
	"perfume-store/internal/media"
	"perfume-store/internal/redisclient"
	"perfume-store/internal/service"
	"perfume-store/internal/store"
	"perfume-store/internal/util"
	"perfume-store/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting perfume store")

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		logger.Warn("JWT_SECRET is not set; tokens are signed with the development key")
	}

	tp, err := util.InitTracer("perfume-store", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	images, mediaDir, err := newImageStorage(cfg.Media)
	if err != nil {
		logger.Fatal("Failed to initialize media storage", zap.Error(err))
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	eventPublisher := broker.NewEventPublisher(producer)

	catalogService := service.NewCatalogService(db, redisClient, images, cfg.Business.CatalogCacheTTL)
	cartService := service.NewCartService(db)
	orderService := service.NewOrderService(db, redisClient, redisClient, eventPublisher, cfg.Business.IdempotencyTTL)
	reviewService := service.NewReviewService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	fulfillmentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicFulfillment, cfg.Kafka.ConsumerGroup)
	fulfillmentWorker := worker.NewFulfillmentWorker(fulfillmentConsumer, orderService)
	go func() {
		if err := fulfillmentWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Fulfillment worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(catalogService, cartService, orderService, reviewService, api.Options{
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		MediaDir:       mediaDir,
		Checks: map[string]api.Pinger{
			"database": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := fulfillmentWorker.Stop(); err != nil {
		logger.Warn("Error stopping fulfillment worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newImageStorage returns the configured image backend and, for local
// storage, the directory to serve
func newImageStorage(cfg config.MediaConfig) (service.ImageStorage, string, error) {
	switch cfg.Backend {
	case "s3":
		s, err := media.NewS3Storage(cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix, cfg.BaseURL)
		return s, "", err
	case "local", "":
		l, err := media.NewLocalStorage(cfg.Dir, cfg.BaseURL)
		if err != nil {
			return nil, "", err
		}
		return l, l.Dir(), nil
	default:
		return nil, "", fmt.Errorf("unknown media backend %q", cfg.Backend)
	}
}
