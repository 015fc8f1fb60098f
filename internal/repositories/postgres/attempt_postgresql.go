package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/cache"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories"
)

// nextAttemptNumberSQL bumps the per (student, quiz) counter under a row lock.
// The seed value and GREATEST keep the counter ahead of rows written before the counter existed.
const nextAttemptNumberSQL = `
INSERT INTO attempt_counters (student_id, quiz_id, last_number, updated_at)
VALUES (?, ?, (
	SELECT COALESCE(MAX(attempt_number), 0) + 1
	FROM quiz_attempts
	WHERE student_id = ? AND quiz_id = ?
), ?)
ON CONFLICT (student_id, quiz_id) DO UPDATE
SET last_number = GREATEST(attempt_counters.last_number + 1, EXCLUDED.last_number),
	updated_at = EXCLUDED.updated_at
RETURNING last_number`

type AttemptPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (a *AttemptPostgreSQL) NextAttemptNumber(ctx context.Context, tx *gorm.DB, studentID, quizID string) (int, error) {
	db := a.helpers.getDB(tx)
	var next int
	if err := db.WithContext(ctx).
		Raw(nextAttemptNumberSQL, studentID, quizID, studentID, quizID, time.Now().UTC()).
		Scan(&next).Error; err != nil {
		return 0, fmt.Errorf("failed to allocate attempt number: %w", err)
	}
	return next, nil
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error {
	db := a.helpers.getDB(tx)
	if err := db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.QuizAttempt, error) {
	db := a.helpers.getDB(tx)
	fetch := func() (interface{}, error) {
		var attempt models.QuizAttempt
		if err := withAnswers(db.WithContext(ctx)).
			Where("id = ?", id).
			First(&attempt).Error; err != nil {
			return nil, fmt.Errorf("failed to get attempt %s: %w", id, err)
		}
		return &attempt, nil
	}

	if tx != nil {
		attempt, err := fetch()
		if err != nil {
			return nil, err
		}
		return attempt.(*models.QuizAttempt), nil
	}

	var attempt models.QuizAttempt
	if err := a.cacheManager.Attempt.CacheOrExecute(ctx, cache.AttemptKey(id), &attempt, cache.AttemptCacheConfig.TTL, fetch); err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.QuizAttempt, error) {
	db := a.helpers.getDB(tx)
	var attempt models.QuizAttempt
	if err := withAnswers(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})).
		Where("id = ?", id).
		First(&attempt).Error; err != nil {
		return nil, fmt.Errorf("failed to lock attempt %s: %w", id, err)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) Update(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error {
	db := a.helpers.getDB(tx)
	if err := db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("id = ?", attempt.ID).
		Updates(map[string]interface{}{
			"total_score":    attempt.TotalScore,
			"grading_status": attempt.GradingStatus,
			"graded_count":   attempt.GradedCount,
			"question_count": attempt.QuestionCount,
			"updated_at":     time.Now().UTC(),
		}).Error; err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	return nil
}

// UpdateAnswer never inserts: answers are created with their attempt and only regraded afterwards
func (a *AttemptPostgreSQL) UpdateAnswer(ctx context.Context, tx *gorm.DB, answer *models.AttemptAnswer) error {
	db := a.helpers.getDB(tx)
	if err := db.WithContext(ctx).
		Model(&models.AttemptAnswer{}).
		Where("attempt_id = ? AND question_id = ?", answer.AttemptID, answer.QuestionID).
		Updates(map[string]interface{}{
			"is_correct": answer.IsCorrect,
			"ai_score":   answer.AIScore,
			"feedback":   answer.Feedback,
			"status":     answer.Status,
			"graded_by":  answer.GradedBy,
			"graded_at":  answer.GradedAt,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
		return fmt.Errorf("failed to update answer %s/%s: %w", answer.AttemptID, answer.QuestionID, err)
	}
	return nil
}

func (a *AttemptPostgreSQL) ListByStudentQuiz(ctx context.Context, tx *gorm.DB, studentID, quizID string) ([]*models.QuizAttempt, error) {
	db := a.helpers.getDB(tx)
	var attempts []*models.QuizAttempt
	if err := withAnswers(db.WithContext(ctx)).
		Where("student_id = ? AND quiz_id = ?", studentID, quizID).
		Order("attempt_number ASC").
		Order("created_at ASC").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) ListByQuiz(ctx context.Context, tx *gorm.DB, quizID string) ([]*models.QuizAttempt, error) {
	return a.ListByQuizzes(ctx, tx, []string{quizID})
}

func (a *AttemptPostgreSQL) ListByQuizzes(ctx context.Context, tx *gorm.DB, quizIDs []string) ([]*models.QuizAttempt, error) {
	if len(quizIDs) == 0 {
		return []*models.QuizAttempt{}, nil
	}

	db := a.helpers.getDB(tx)
	var attempts []*models.QuizAttempt
	if err := withAnswers(db.WithContext(ctx)).
		Where("quiz_id IN ?", quizIDs).
		Order("student_id ASC").
		Order("attempt_number ASC").
		Order("created_at ASC").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to list quiz attempts: %w", err)
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) CountByStudentQuiz(ctx context.Context, tx *gorm.DB, studentID, quizID string) (int, error) {
	count, err := a.helpers.CountAttemptsByStudent(ctx, tx, quizID, studentID)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return int(count), nil
}

func (a *AttemptPostgreSQL) CountsByStudent(ctx context.Context, tx *gorm.DB, studentID string, quizIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(quizIDs))
	if len(quizIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		QuizID string
		Total  int
	}
	db := a.helpers.getDB(tx)
	if err := db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Select("quiz_id, COUNT(*) AS total").
		Where("student_id = ? AND quiz_id IN ?", studentID, quizIDs).
		Group("quiz_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count attempts per quiz: %w", err)
	}

	for _, row := range rows {
		counts[row.QuizID] = row.Total
	}
	return counts, nil
}

func withAnswers(db *gorm.DB) *gorm.DB {
	return db.Preload("Answers", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}
