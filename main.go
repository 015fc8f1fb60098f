package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/cache"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/config"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/events"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/handlers"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/oracle"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories/casdoor"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/services"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/utils"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/validator"
	"github.com/SAP-F-2025/quiz-scoring-service/pkg"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	logger := utils.NewSlogLogger(slogLogger)

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Redis is optional; without it every cache lookup falls through to postgres
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("Redis unavailable, running without cache", "error", err)
			redisClient = nil
		}
	}

	repoManager := postgres.NewRepositoryManager(postgres.RepositoryConfig{
		DB:          db,
		RedisClient: redisClient,
		CasdoorConfig: casdoor.CasdoorConfig{
			Endpoint:         cfg.Casdoor.Endpoint,
			ClientID:         cfg.Casdoor.ClientID,
			ClientSecret:     cfg.Casdoor.ClientSecret,
			Certificate:      cfg.Casdoor.Cert,
			OrganizationName: cfg.Casdoor.Organization,
			ApplicationName:  cfg.Casdoor.Application,
		},
	})
	if err := repoManager.Initialize(); err != nil {
		log.Fatalf("Failed to initialize repositories: %v", err)
	}
	repo := repoManager.GetRepository()

	publisher, err := newEventPublisher(cfg, slogLogger)
	if err != nil {
		log.Fatalf("Failed to initialize event publisher: %v", err)
	}

	serviceManager := services.NewServiceManager(services.Dependencies{
		Repo:         repo,
		Scorer:       newScorer(cfg, slogLogger),
		Publisher:    publisher,
		CacheManager: cache.NewCacheManager(redisClient),
		Logger:       slogLogger,
		Validator:    validator.New(),
	}, services.ServiceManagerConfig{
		OracleConcurrency: cfg.Oracle.MaxConcurrency,
		Attempt: services.AttemptConfig{
			ConflictRetries: cfg.AttemptConflictRetries,
		},
	})
	if err := serviceManager.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	handlerManager := handlers.NewHandlerManager(serviceManager, logger, cfg.Casdoor, repo.User())

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handlers.SetupMiddleware(router, logger)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment, "oracle_enabled", cfg.Oracle.Enabled())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if err := serviceManager.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown services", "error", err)
	}
	// Closes postgres and redis
	if err := repoManager.Shutdown(ctx); err != nil {
		logger.Error("Failed to close repositories", "error", err)
	}

	logger.Info("Server exited")
}

// newScorer uses Gemini when an API key is configured and the offline keyword scorer otherwise
func newScorer(cfg *config.Config, logger *slog.Logger) oracle.Scorer {
	var scorer oracle.Scorer = oracle.NewKeywordScorer()
	if cfg.Oracle.Enabled() {
		scorer = oracle.NewGeminiScorer(oracle.GeminiConfig{
			APIKey:   cfg.Oracle.APIKey,
			Model:    cfg.Oracle.Model,
			Endpoint: cfg.Oracle.Endpoint,
		}, &http.Client{}, logger)
	} else {
		logger.Warn("GEMINI_API_KEY not set, short answers are scored by keyword overlap")
	}

	return oracle.NewRetryingScorer(scorer, oracle.RetryConfig{
		Timeout:      cfg.Oracle.Timeout,
		MaxRetries:   cfg.Oracle.MaxRetries,
		RetryBackoff: cfg.Oracle.RetryBackoff,
	}, logger)
}

func newEventPublisher(cfg *config.Config, logger *slog.Logger) (events.EventPublisher, error) {
	if len(cfg.Kafka.Brokers) > 0 {
		return events.NewKafkaEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix, logger)
	}
	logger.Info("KAFKA_BROKERS not set, events stay in process")
	publisher, _ := events.NewInProcessEventPublisher(cfg.Kafka.TopicPrefix, logger)
	return publisher, nil
}
