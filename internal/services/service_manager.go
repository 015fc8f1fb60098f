package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/cache"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/events"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/oracle"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	// ShortAnswer questions scored in parallel per submission
	OracleConcurrency int

	Attempt AttemptConfig
}

// Dependencies groups what the services are built from
type Dependencies struct {
	Repo         repositories.Repository
	Scorer       oracle.Scorer
	Publisher    events.EventPublisher
	CacheManager *cache.CacheManager
	Logger       *slog.Logger
	Validator    *validator.Validator
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	deps   Dependencies
	config ServiceManagerConfig

	// Service instances
	quizService      QuizService
	attemptService   AttemptService
	gradingService   GradingService
	analyticsService AnalyticsService
	exportService    ExportService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(deps Dependencies, config ServiceManagerConfig) ServiceManager {
	if deps.CacheManager == nil {
		deps.CacheManager = cache.NewCacheManager(nil)
	}
	return &serviceManager{
		deps:   deps,
		config: config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration
func NewDefaultServiceManager(deps Dependencies) ServiceManager {
	return NewServiceManager(deps, ServiceManagerConfig{
		OracleConcurrency: 4,
		Attempt: AttemptConfig{
			ConflictRetries: 3,
			ConflictBackoff: 20 * time.Millisecond,
		},
	})
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.deps.Logger.Info("Initializing service manager")

	if err := sm.validateDependencies(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	d := sm.deps
	grader := NewGrader(d.Scorer, d.Logger, sm.config.OracleConcurrency)

	sm.quizService = NewQuizService(d.Repo, d.CacheManager, d.Logger, d.Validator)
	sm.attemptService = NewAttemptService(d.Repo, d.Logger, d.Validator, grader, d.Publisher, d.CacheManager, sm.config.Attempt)
	sm.gradingService = NewGradingService(d.Repo, d.Logger, d.Validator, grader, d.Publisher, d.CacheManager)
	sm.analyticsService = NewAnalyticsService(d.Repo, d.CacheManager, d.Logger)
	sm.exportService = NewExportService(d.Repo, d.CacheManager, d.Logger)

	sm.initialized = true
	sm.deps.Logger.Info("Service manager initialized successfully",
		"oracle_concurrency", sm.config.OracleConcurrency,
		"conflict_retries", sm.config.Attempt.ConflictRetries)

	return nil
}

func (sm *serviceManager) validateDependencies() error {
	var errs []error
	if sm.deps.Repo == nil {
		errs = append(errs, errors.New("repository is required"))
	}
	if sm.deps.Scorer == nil {
		errs = append(errs, errors.New("scorer is required"))
	}
	if sm.deps.Logger == nil {
		errs = append(errs, errors.New("logger is required"))
	}
	if sm.deps.Validator == nil {
		errs = append(errs, errors.New("validator is required"))
	}
	return errors.Join(errs...)
}

// Service getters
func (sm *serviceManager) Quiz() QuizService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.quizService
}

func (sm *serviceManager) Attempt() AttemptService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.attemptService
}

func (sm *serviceManager) Grading() GradingService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.gradingService
}

func (sm *serviceManager) Analytics() AnalyticsService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.analyticsService
}

func (sm *serviceManager) Export() ExportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.exportService
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}

	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.deps.Repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}

	// Redis is optional; a broken cache degrades to direct reads
	if err := sm.deps.CacheManager.HealthCheck(ctx); err != nil && !errors.Is(err, cache.ErrCacheNotAvailable) {
		sm.deps.Logger.Warn("Cache health check failed", "error", err)
	}

	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.deps.Logger.Info("Shutting down service manager")

	if sm.deps.Publisher != nil {
		if err := sm.deps.Publisher.Close(); err != nil {
			sm.deps.Logger.Error("Failed to close event publisher", "error", err)
		}
	}

	sm.shutdown = true
	sm.deps.Logger.Info("Service manager shut down completed")

	return nil
}
