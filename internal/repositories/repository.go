package repositories

import "context"

// Repository groups every repository behind one handle
type Repository interface {
	Quiz() QuizRepository
	Attempt() AttemptRepository

	// User profiles come from Casdoor
	User() UserRepository

	// WithTransaction runs fn with repositories bound to one database transaction
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryManager manages repository lifecycle
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
