package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/cache"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/events"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories"
)

// attemptRecorder holds what the attempt and grading services share:
// loading with permission checks, saving regraded answers and announcing results
type attemptRecorder struct {
	repo         repositories.Repository
	publisher    events.EventPublisher
	cacheManager *cache.CacheManager
	logger       *slog.Logger
}

func canManageQuiz(quiz *models.Quiz, userID string, role models.UserRole) bool {
	return role == models.RoleAdmin || (role == models.RoleTeacher && quiz.CreatedBy == userID)
}

func (r *attemptRecorder) loadQuiz(ctx context.Context, quizID string) (*models.Quiz, error) {
	quiz, err := r.repo.Quiz().GetByID(ctx, nil, quizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, newNotFound("quiz", quizID)
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	return quiz, nil
}

// loadAttempt returns an attempt with its quiz, applying read permissions
func (r *attemptRecorder) loadAttempt(ctx context.Context, attemptID, userID string, role models.UserRole, action string) (*models.QuizAttempt, *models.Quiz, error) {
	attempt, err := r.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, newNotFound("attempt", attemptID)
		}
		return nil, nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	quiz, err := r.loadQuiz(ctx, attempt.QuizID)
	if err != nil {
		return nil, nil, err
	}

	switch action {
	case "read":
		if attempt.StudentID != userID && !canManageQuiz(quiz, userID, role) {
			return nil, nil, NewPermissionError(userID, attemptID, "attempt", action, "not the owner of this attempt")
		}
	default:
		if !canManageQuiz(quiz, userID, role) {
			return nil, nil, NewPermissionError(userID, attemptID, "attempt", action, "only the quiz owner can grade")
		}
	}

	return attempt, quiz, nil
}

// saveGrades writes grades and the recomputed totals in one transaction.
// The attempt row is locked and re-read first, so totals come from the stored answers.
// With overwrite unset, answers graded since the caller read the attempt are left alone.
// On success attempt holds the stored state and the number of written answers is returned.
func (r *attemptRecorder) saveGrades(ctx context.Context, attempt *models.QuizAttempt, quiz *models.Quiz, changed []*models.AttemptAnswer, overwrite bool) (int, error) {
	var (
		saved   *models.QuizAttempt
		written int
	)
	err := r.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		current, err := txRepo.Attempt().GetForUpdate(ctx, nil, attempt.ID)
		if err != nil {
			return err
		}

		written = 0
		for _, answer := range changed {
			stored, ok := current.AnswerFor(answer.QuestionID)
			if !ok {
				return newNotFound("question", answer.QuestionID)
			}
			if stored.IsGraded() && !overwrite {
				continue
			}
			copyGrade(stored, answer)
			if err := txRepo.Attempt().UpdateAnswer(ctx, nil, stored); err != nil {
				return err
			}
			written++
		}
		if written == 0 {
			saved = current
			return nil
		}

		totals, err := Aggregate(quiz, current.Answers)
		if err != nil {
			return err
		}
		applyTotals(current, totals)
		current.UpdatedAt = attempt.UpdatedAt
		if err := txRepo.Attempt().Update(ctx, nil, current); err != nil {
			return err
		}
		saved = current
		return nil
	})
	if err != nil {
		return 0, err
	}

	cache.InvalidateAttempt(ctx, r.cacheManager, attempt.ID)
	*attempt = *saved
	return written, nil
}

func copyGrade(dst, src *models.AttemptAnswer) {
	dst.IsCorrect = src.IsCorrect
	dst.AIScore = src.AIScore
	dst.Feedback = src.Feedback
	dst.Status = src.Status
	dst.GradedBy = src.GradedBy
	dst.GradedAt = src.GradedAt
	dst.UpdatedAt = src.UpdatedAt
}

// announce publishes attempt events and drops cached aggregates. Failures are logged only.
func (r *attemptRecorder) announce(ctx context.Context, attempt *models.QuizAttempt, quiz *models.Quiz, types ...events.EventType) {
	cache.InvalidateQuizResults(ctx, r.cacheManager, quiz.ID, quiz.CreatedBy)

	if r.publisher == nil {
		return
	}

	data := events.AttemptEventData{
		AttemptID:     attempt.ID,
		QuizID:        attempt.QuizID,
		StudentID:     attempt.StudentID,
		AttemptNumber: attempt.AttemptNumber,
		TotalScore:    attempt.TotalScore,
		GradingStatus: string(attempt.GradingStatus),
		GradedCount:   attempt.GradedCount,
		QuestionCount: attempt.QuestionCount,
	}
	for _, eventType := range types {
		if err := r.publisher.Publish(ctx, events.NewEvent(eventType, data)); err != nil {
			r.logger.Error("Failed to publish attempt event",
				"attempt_id", attempt.ID,
				"event_type", eventType,
				"error", err)
		}
	}
}

func gradingEventType(status models.GradingStatus) events.EventType {
	if status == models.GradingComplete {
		return events.AttemptGraded
	}
	return events.AttemptPartiallyGraded
}

func applyTotals(attempt *models.QuizAttempt, totals *AttemptTotals) {
	attempt.TotalScore = totals.TotalScore
	attempt.GradedCount = totals.GradedCount
	attempt.QuestionCount = totals.QuestionCount
	attempt.GradingStatus = totals.Status
}

func toAttemptResponse(attempt *models.QuizAttempt) *AttemptResponse {
	resp := &AttemptResponse{QuizAttempt: attempt}
	if attempt.TotalScore != nil {
		grade := calculateLetterGrade(*attempt.TotalScore)
		resp.LetterGrade = &grade
	}
	for _, answer := range attempt.Answers {
		if !answer.IsGraded() {
			resp.UngradedQuestions = append(resp.UngradedQuestions, answer.QuestionID)
		}
	}
	return resp
}

// buildAnswers turns graded results into stored answers, ordered like the quiz questions
func buildAnswers(quiz *models.Quiz, submissions []models.AnswerSubmission, results []*QuestionResult, now time.Time) []models.AttemptAnswer {
	answers := make([]models.AttemptAnswer, 0, len(submissions))
	for i, submission := range submissions {
		question, _ := quiz.QuestionByID(submission.QuestionID)
		answer := models.AttemptAnswer{
			QuestionID: submission.QuestionID,
			Position:   question.Position,
			AnswerText: submission.AnswerText,
		}
		results[i].apply(&answer, now)
		answers = append(answers, answer)
	}

	slices.SortStableFunc(answers, func(a, b models.AttemptAnswer) int {
		return a.Position - b.Position
	})
	return answers
}
