package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eapache/go-resiliency/retrier"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/cache"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/events"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/validator"
)

// AttemptConfig tunes attempt number conflict handling
type AttemptConfig struct {
	ConflictRetries int
	ConflictBackoff time.Duration
}

type attemptService struct {
	*attemptRecorder
	validator *validator.Validator
	grader    *Grader
	config    AttemptConfig
	now       func() time.Time
}

func NewAttemptService(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, grader *Grader, publisher events.EventPublisher, cacheManager *cache.CacheManager, config AttemptConfig) AttemptService {
	if config.ConflictBackoff <= 0 {
		config.ConflictBackoff = 20 * time.Millisecond
	}
	return &attemptService{
		attemptRecorder: &attemptRecorder{
			repo:         repo,
			publisher:    publisher,
			cacheManager: cacheManager,
			logger:       logger,
		},
		validator: validator,
		grader:    grader,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit grades a submission and stores it under the next attempt number.
// Oracle failures leave answers ungraded instead of failing the submission.
func (s *attemptService) Submit(ctx context.Context, studentID, quizID string, req *models.AttemptSubmitRequest) (*AttemptResponse, error) {
	s.logger.Info("Submitting attempt",
		"student_id", studentID,
		"quiz_id", quizID,
		"answers", len(req.Answers))

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	quiz, err := s.loadQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	if err := ValidateAnswerSet(quiz, req.Answers); err != nil {
		return nil, err
	}

	// Checked again inside the insert transaction
	if quiz.AttemptsAllowed > 0 {
		used, err := s.repo.Attempt().CountByStudentQuiz(ctx, nil, studentID, quizID)
		if err != nil {
			return nil, fmt.Errorf("failed to count attempts: %w", err)
		}
		if used >= quiz.AttemptsAllowed {
			return nil, ErrMaxAttemptsReached
		}
	}

	results, err := s.grader.GradeAll(ctx, quiz, req.Answers)
	if err != nil {
		return nil, err
	}

	attempt, err := s.store(ctx, studentID, quiz, req.Answers, results)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Attempt stored",
		"attempt_id", attempt.ID,
		"attempt_number", attempt.AttemptNumber,
		"grading_status", attempt.GradingStatus,
		"graded", attempt.GradedCount,
		"questions", attempt.QuestionCount)

	s.announce(ctx, attempt, quiz, events.AttemptSubmitted, gradingEventType(attempt.GradingStatus))

	return toAttemptResponse(attempt), nil
}

// store assigns the attempt number and inserts the attempt in one transaction,
// retrying when a concurrent writer took the same number
func (s *attemptService) store(ctx context.Context, studentID string, quiz *models.Quiz, submissions []models.AnswerSubmission, results []*QuestionResult) (*models.QuizAttempt, error) {
	now := s.now()
	answers := buildAnswers(quiz, submissions, results, now)

	totals, err := Aggregate(quiz, answers)
	if err != nil {
		return nil, err
	}

	var (
		attempt *models.QuizAttempt
		tries   int
	)
	r := retrier.New(
		retrier.ExponentialBackoff(s.config.ConflictRetries, s.config.ConflictBackoff),
		retrier.WhitelistClassifier{ErrConcurrencyConflict},
	)

	err = r.RunCtx(ctx, func(ctx context.Context) error {
		tries++

		// Fresh rows on every try; a rolled back insert must not leak ids
		attempt = &models.QuizAttempt{
			StudentID: studentID,
			QuizID:    quiz.ID,
			CreatedAt: now,
			UpdatedAt: now,
			Answers:   make([]models.AttemptAnswer, len(answers)),
		}
		copy(attempt.Answers, answers)
		applyTotals(attempt, totals)

		return s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
			number, err := txRepo.Attempt().NextAttemptNumber(ctx, nil, studentID, quiz.ID)
			if err != nil {
				return err
			}

			if quiz.AttemptsAllowed > 0 {
				used, err := txRepo.Attempt().CountByStudentQuiz(ctx, nil, studentID, quiz.ID)
				if err != nil {
					return fmt.Errorf("failed to count attempts: %w", err)
				}
				if used >= quiz.AttemptsAllowed {
					return ErrMaxAttemptsReached
				}
			}

			attempt.AttemptNumber = number
			if err := txRepo.Attempt().Create(ctx, nil, attempt); err != nil {
				if repositories.IsDuplicateKeyError(err) {
					s.logger.Warn("Attempt number conflict",
						"student_id", studentID,
						"quiz_id", quiz.ID,
						"attempt_number", number,
						"try", tries)
					return &ConcurrencyConflictError{StudentID: studentID, QuizID: quiz.ID, Attempts: tries, Err: err}
				}
				return err
			}
			return nil
		})
	})
	if err != nil {
		var conflict *ConcurrencyConflictError
		if errors.As(err, &conflict) {
			conflict.Attempts = tries
			return nil, conflict
		}
		if errors.Is(err, ErrMaxAttemptsReached) || IsValidationError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store attempt: %w", err)
	}

	return attempt, nil
}

func (s *attemptService) GetAttempts(ctx context.Context, studentID, quizID string) ([]*AttemptResponse, error) {
	if _, err := s.loadQuiz(ctx, quizID); err != nil {
		return nil, err
	}

	attempts, err := s.repo.Attempt().ListByStudentQuiz(ctx, nil, studentID, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}

	responses := make([]*AttemptResponse, len(attempts))
	for i, attempt := range attempts {
		responses[i] = toAttemptResponse(attempt)
	}
	return responses, nil
}

func (s *attemptService) GetAttempt(ctx context.Context, attemptID, userID string, role models.UserRole) (*AttemptResponse, error) {
	attempt, _, err := s.loadAttempt(ctx, attemptID, userID, role, "read")
	if err != nil {
		return nil, err
	}
	return toAttemptResponse(attempt), nil
}
