package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/oracle"
)

const blankAnswerFeedback = "No answer provided"

// QuestionResult is the outcome of grading one answer. Score is nil when the
// answer could not be graded; Err then holds the oracle error.
type QuestionResult struct {
	QuestionID string              `json:"question_id"`
	Type       models.QuestionType `json:"type"`
	IsCorrect  *bool               `json:"is_correct,omitempty"`
	Score      *float64            `json:"score"`
	Feedback   *string             `json:"feedback,omitempty"`
	GradedBy   string              `json:"graded_by,omitempty"`
	Err        error               `json:"-"`
}

func (r *QuestionResult) Graded() bool {
	return r.Score != nil
}

// apply copies the result onto a stored answer
func (r *QuestionResult) apply(answer *models.AttemptAnswer, now time.Time) {
	if !r.Graded() {
		answer.Status = models.AnswerUngraded
		return
	}

	answer.Status = models.AnswerGraded
	answer.IsCorrect = r.IsCorrect
	answer.Feedback = r.Feedback
	answer.GradedBy = strPtr(r.GradedBy)
	answer.GradedAt = &now
	if r.Type == models.ShortAnswer {
		answer.AIScore = r.Score
	}
}

// Grader grades answers: MCQ by exact match, ShortAnswer through the scoring oracle
type Grader struct {
	scorer         oracle.Scorer
	logger         *slog.Logger
	maxConcurrency int
}

func NewGrader(scorer oracle.Scorer, logger *slog.Logger, maxConcurrency int) *Grader {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Grader{
		scorer:         scorer,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Grade grades one answer. Oracle failures never return an error here; they
// come back as an ungraded result. Only an unknown question type is an error.
func (g *Grader) Grade(ctx context.Context, question *models.Question, answerText string) (*QuestionResult, error) {
	switch question.Type {
	case models.MultipleChoice:
		return gradeMCQ(question, answerText), nil
	case models.ShortAnswer:
		return g.gradeShortAnswer(ctx, question, answerText), nil
	default:
		return nil, NewValidationError("type", "unsupported question type", question.Type)
	}
}

// GradeAll grades answers in submission order. ShortAnswer questions are
// scored concurrently, at most maxConcurrency at a time.
func (g *Grader) GradeAll(ctx context.Context, quiz *models.Quiz, answers []models.AnswerSubmission) ([]*QuestionResult, error) {
	questions := make([]*models.Question, len(answers))
	for i, answer := range answers {
		question, ok := quiz.QuestionByID(answer.QuestionID)
		if !ok {
			return nil, newNotFound("question", answer.QuestionID)
		}
		questions[i] = question
	}

	results := make([]*QuestionResult, len(answers))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(g.maxConcurrency)

	for i, answer := range answers {
		question := questions[i]
		if question.Type != models.ShortAnswer {
			result, err := g.Grade(ctx, question, answer.AnswerText)
			if err != nil {
				group.Wait()
				return nil, err
			}
			results[i] = result
			continue
		}

		group.Go(func() error {
			results[i] = g.gradeShortAnswer(groupCtx, question, answer.AnswerText)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func gradeMCQ(question *models.Question, answerText string) *QuestionResult {
	correct := question.CorrectAnswer != nil &&
		strings.TrimSpace(answerText) == strings.TrimSpace(*question.CorrectAnswer)

	score := models.MinScore
	if correct {
		score = models.MaxScore
	}

	return &QuestionResult{
		QuestionID: question.ID,
		Type:       question.Type,
		IsCorrect:  &correct,
		Score:      &score,
		GradedBy:   models.GradedByAuto,
	}
}

func (g *Grader) gradeShortAnswer(ctx context.Context, question *models.Question, answerText string) *QuestionResult {
	result := &QuestionResult{QuestionID: question.ID, Type: question.Type}

	if strings.TrimSpace(answerText) == "" {
		zero := models.MinScore
		result.Score = &zero
		result.Feedback = strPtr(blankAnswerFeedback)
		result.GradedBy = models.GradedByAuto
		return result
	}

	rubric := ""
	if question.Rubric != nil {
		rubric = *question.Rubric
	}

	verdict, err := g.scorer.Score(ctx, oracle.Request{
		Question: question.Prompt,
		Rubric:   rubric,
		Answer:   answerText,
	})
	if err == nil {
		err = oracle.ValidateScore(verdict.Score)
	}
	if err != nil {
		g.logger.Warn("Short answer left ungraded",
			"question_id", question.ID,
			"error", err)
		result.Err = err
		return result
	}

	score := verdict.Score
	result.Score = &score
	result.GradedBy = models.GradedByOracle
	if verdict.Feedback != "" {
		result.Feedback = strPtr(verdict.Feedback)
	}
	return result
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
