package repositories

import (
	"context"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"gorm.io/gorm"
)

// ===== SHARED FILTER STRUCTS =====

type QuizFilters struct {
	Kind      *models.QuizKind `json:"kind"`
	CourseID  *string          `json:"course_id"`
	CreatedBy *string          `json:"created_by"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
	SortBy    string           `json:"sort_by"`    // "created_at", "title"
	SortOrder string           `json:"sort_order"` // "asc", "desc"
}

// QuizRepository stores quiz definitions together with their questions
type QuizRepository interface {
	Create(ctx context.Context, tx *gorm.DB, quiz *models.Quiz) error
	// GetByID loads the quiz with its questions ordered by position
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Quiz, error)
	// Update saves quiz fields and replaces its question set
	Update(ctx context.Context, tx *gorm.DB, quiz *models.Quiz) error

	List(ctx context.Context, tx *gorm.DB, filters QuizFilters) ([]*models.Quiz, int64, error)
	ListByTeacher(ctx context.Context, tx *gorm.DB, teacherID string, filters QuizFilters) ([]*models.Quiz, int64, error)
	ListByCourse(ctx context.Context, tx *gorm.DB, courseID string, filters QuizFilters) ([]*models.Quiz, int64, error)

	HasAttempts(ctx context.Context, tx *gorm.DB, quizID string) (bool, error)
}

// AttemptRepository stores attempts and their per-question answers
type AttemptRepository interface {
	// NextAttemptNumber hands out the next attempt number for (student, quiz).
	// Must run inside the transaction that inserts the attempt.
	NextAttemptNumber(ctx context.Context, tx *gorm.DB, studentID, quizID string) (int, error)

	// Create inserts the attempt and its answers
	Create(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.QuizAttempt, error)
	// GetForUpdate reads the attempt uncached and holds its row lock until the transaction ends
	GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.QuizAttempt, error)
	// Update saves the attempt totals, not its answers
	Update(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error
	// UpdateAnswer writes the grading columns of the answer stored for (attempt_id, question_id)
	UpdateAnswer(ctx context.Context, tx *gorm.DB, answer *models.AttemptAnswer) error

	// ListByStudentQuiz returns attempts ordered by attempt number, then creation time
	ListByStudentQuiz(ctx context.Context, tx *gorm.DB, studentID, quizID string) ([]*models.QuizAttempt, error)
	ListByQuiz(ctx context.Context, tx *gorm.DB, quizID string) ([]*models.QuizAttempt, error)
	ListByQuizzes(ctx context.Context, tx *gorm.DB, quizIDs []string) ([]*models.QuizAttempt, error)
	CountByStudentQuiz(ctx context.Context, tx *gorm.DB, studentID, quizID string) (int, error)
	// CountsByStudent returns attempt counts per quiz for one student
	CountsByStudent(ctx context.Context, tx *gorm.DB, studentID string, quizIDs []string) (map[string]int, error)
}

// UserRepository reads user profiles; this service does not own user data
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)
}
