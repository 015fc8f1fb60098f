package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/cache"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories"
)

type QuizPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewQuizPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.QuizRepository {
	return &QuizPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (q *QuizPostgreSQL) Create(ctx context.Context, tx *gorm.DB, quiz *models.Quiz) error {
	db := q.helpers.getDB(tx)
	if err := db.WithContext(ctx).Create(quiz).Error; err != nil {
		return fmt.Errorf("failed to create quiz: %w", err)
	}
	return nil
}

func (q *QuizPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Quiz, error) {
	db := q.helpers.getDB(tx)
	fetch := func() (interface{}, error) {
		var quiz models.Quiz
		if err := db.WithContext(ctx).
			Preload("Questions", func(db *gorm.DB) *gorm.DB {
				return db.Order("position ASC")
			}).
			Where("id = ?", id).
			First(&quiz).Error; err != nil {
			return nil, fmt.Errorf("failed to get quiz %s: %w", id, err)
		}
		return &quiz, nil
	}

	// Reads inside a transaction bypass the cache
	if tx != nil {
		quiz, err := fetch()
		if err != nil {
			return nil, err
		}
		return quiz.(*models.Quiz), nil
	}

	var quiz models.Quiz
	if err := q.cacheManager.Quiz.CacheOrExecute(ctx, cache.QuizKey(id), &quiz, cache.QuizCacheConfig.TTL, fetch); err != nil {
		return nil, err
	}
	return &quiz, nil
}

// Update saves quiz fields and, when questions are given, replaces the question set
func (q *QuizPostgreSQL) Update(ctx context.Context, tx *gorm.DB, quiz *models.Quiz) error {
	db := q.helpers.getDB(tx)
	err := db.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		if err := inner.Omit("Questions").Save(quiz).Error; err != nil {
			return fmt.Errorf("failed to update quiz: %w", err)
		}
		if len(quiz.Questions) == 0 {
			return nil
		}

		if err := inner.Where("quiz_id = ?", quiz.ID).Delete(&models.Question{}).Error; err != nil {
			return fmt.Errorf("failed to clear quiz questions: %w", err)
		}
		for i := range quiz.Questions {
			quiz.Questions[i].QuizID = quiz.ID
		}
		if err := inner.Create(&quiz.Questions).Error; err != nil {
			return fmt.Errorf("failed to create quiz questions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	cache.InvalidateQuiz(ctx, q.cacheManager, quiz.ID, quiz.CreatedBy)
	return nil
}

func (q *QuizPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.QuizFilters) ([]*models.Quiz, int64, error) {
	db := q.helpers.getDB(tx)
	var (
		quizzes []*models.Quiz
		total   int64
	)

	query := db.WithContext(ctx).Model(&models.Quiz{})
	query = q.helpers.ApplyQuizFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count quizzes: %w", err)
	}

	query = q.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Preload("Questions", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Find(&quizzes).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list quizzes: %w", err)
	}

	return quizzes, total, nil
}

func (q *QuizPostgreSQL) ListByTeacher(ctx context.Context, tx *gorm.DB, teacherID string, filters repositories.QuizFilters) ([]*models.Quiz, int64, error) {
	filters.CreatedBy = &teacherID
	return q.List(ctx, tx, filters)
}

func (q *QuizPostgreSQL) ListByCourse(ctx context.Context, tx *gorm.DB, courseID string, filters repositories.QuizFilters) ([]*models.Quiz, int64, error) {
	filters.CourseID = &courseID
	return q.List(ctx, tx, filters)
}

func (q *QuizPostgreSQL) HasAttempts(ctx context.Context, tx *gorm.DB, quizID string) (bool, error) {
	count, err := q.helpers.CountAttempts(ctx, tx, quizID)
	if err != nil {
		return false, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count > 0, nil
}
