package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/cache"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/events"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/validator"
)

type gradingService struct {
	*attemptRecorder
	validator *validator.Validator
	grader    *Grader
	now       func() time.Time
}

func NewGradingService(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, grader *Grader, publisher events.EventPublisher, cacheManager *cache.CacheManager) GradingService {
	return &gradingService{
		attemptRecorder: &attemptRecorder{
			repo:         repo,
			publisher:    publisher,
			cacheManager: cacheManager,
			logger:       logger,
		},
		validator: validator,
		grader:    grader,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *gradingService) RegradePending(ctx context.Context, attemptID, userID string, role models.UserRole) (*AttemptResponse, error) {
	attempt, quiz, err := s.loadAttempt(ctx, attemptID, userID, role, "regrade")
	if err != nil {
		return nil, err
	}

	var (
		pending []models.AnswerSubmission
		targets []*models.AttemptAnswer
	)
	for i := range attempt.Answers {
		answer := &attempt.Answers[i]
		if answer.IsGraded() {
			continue
		}
		pending = append(pending, models.AnswerSubmission{QuestionID: answer.QuestionID, AnswerText: answer.AnswerText})
		targets = append(targets, answer)
	}

	if len(pending) == 0 {
		return toAttemptResponse(attempt), nil
	}

	s.logger.Info("Regrading pending answers",
		"attempt_id", attemptID,
		"pending", len(pending),
		"user_id", userID)

	results, err := s.grader.GradeAll(ctx, quiz, pending)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		changed []*models.AttemptAnswer
		lastErr error
	)
	for i, result := range results {
		if !result.Graded() {
			lastErr = result.Err
			continue
		}
		result.apply(targets[i], now)
		targets[i].UpdatedAt = now
		changed = append(changed, targets[i])
	}

	if len(changed) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("failed to regrade attempt %s: %w", attemptID, lastErr)
		}
		return toAttemptResponse(attempt), nil
	}

	attempt.UpdatedAt = now
	written, err := s.saveGrades(ctx, attempt, quiz, changed, false)
	if err != nil {
		return nil, fmt.Errorf("failed to save regraded answers: %w", err)
	}
	if written == 0 {
		// Graded elsewhere while the oracle was running
		return toAttemptResponse(attempt), nil
	}

	s.logger.Info("Attempt regraded",
		"attempt_id", attemptID,
		"regraded", written,
		"skipped", len(changed)-written,
		"grading_status", attempt.GradingStatus)

	s.announce(ctx, attempt, quiz, gradingEventType(attempt.GradingStatus))

	return toAttemptResponse(attempt), nil
}

func (s *gradingService) GradeAnswer(ctx context.Context, attemptID, questionID string, req *models.ManualGradeRequest, userID string, role models.UserRole) (*AttemptResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	attempt, quiz, err := s.loadAttempt(ctx, attemptID, userID, role, "grade")
	if err != nil {
		return nil, err
	}

	answer, ok := attempt.AnswerFor(questionID)
	if !ok {
		return nil, newNotFound("question", questionID)
	}
	question, ok := quiz.QuestionByID(questionID)
	if !ok {
		return nil, newNotFound("question", questionID)
	}

	now := s.now()
	score := req.Score
	answer.AIScore = &score
	answer.Status = models.AnswerGraded
	answer.GradedBy = &userID
	answer.GradedAt = &now
	answer.UpdatedAt = now
	if req.Feedback != nil {
		answer.Feedback = req.Feedback
	}
	if question.Type == models.MultipleChoice {
		correct := score == models.MaxScore
		answer.IsCorrect = &correct
	}

	attempt.UpdatedAt = now
	if _, err := s.saveGrades(ctx, attempt, quiz, []*models.AttemptAnswer{answer}, true); err != nil {
		return nil, fmt.Errorf("failed to save grade: %w", err)
	}

	s.logger.Info("Answer graded manually",
		"attempt_id", attemptID,
		"question_id", questionID,
		"score", score,
		"grader_id", userID)

	s.announce(ctx, attempt, quiz, gradingEventType(attempt.GradingStatus))

	return toAttemptResponse(attempt), nil
}
