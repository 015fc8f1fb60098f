package services

import (
	"fmt"
	"math"
	"strings"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
)

// AttemptTotals is the aggregate of one attempt's graded answers
type AttemptTotals struct {
	TotalScore    *float64             `json:"total_score"`
	GradedCount   int                  `json:"graded_count"`
	QuestionCount int                  `json:"question_count"`
	Status        models.GradingStatus `json:"grading_status"`
}

// ValidateAnswerSet checks that answers cover every question of the quiz exactly once
func ValidateAnswerSet(quiz *models.Quiz, answers []models.AnswerSubmission) error {
	var errs ValidationErrors
	seen := make(map[string]bool, len(answers))

	for i, answer := range answers {
		field := fmt.Sprintf("answers[%d].question_id", i)
		if _, ok := quiz.QuestionByID(answer.QuestionID); !ok {
			errs = append(errs, *NewValidationError(field, "question does not belong to this quiz", answer.QuestionID))
			continue
		}
		if seen[answer.QuestionID] {
			errs = append(errs, *NewValidationError(field, "question answered more than once", answer.QuestionID))
			continue
		}
		seen[answer.QuestionID] = true
	}

	var missing []string
	for _, question := range quiz.Questions {
		if !seen[question.ID] {
			missing = append(missing, question.ID)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, *NewValidationError("answers", "missing answers for questions: "+strings.Join(missing, ", "), len(missing)))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// answerScore returns the 0..100 score of a graded answer. A manual or oracle score wins over the MCQ flag.
func answerScore(answer *models.AttemptAnswer) (float64, bool) {
	if !answer.IsGraded() {
		return 0, false
	}
	if answer.AIScore != nil {
		return *answer.AIScore, true
	}
	if answer.IsCorrect != nil {
		if *answer.IsCorrect {
			return models.MaxScore, true
		}
		return models.MinScore, true
	}
	return 0, false
}

// Aggregate computes the weighted mean of graded answers, rounded half up.
// Ungraded answers are left out of the mean and mark the attempt partially graded.
func Aggregate(quiz *models.Quiz, answers []models.AttemptAnswer) (*AttemptTotals, error) {
	totals := &AttemptTotals{QuestionCount: len(quiz.Questions)}

	var weighted, weights float64
	for i := range answers {
		answer := &answers[i]
		question, ok := quiz.QuestionByID(answer.QuestionID)
		if !ok {
			return nil, NewValidationError("question_id", "question does not belong to this quiz", answer.QuestionID)
		}

		score, graded := answerScore(answer)
		if !graded {
			continue
		}
		if math.IsNaN(score) || score < models.MinScore || score > models.MaxScore {
			return nil, NewValidationError("score", "score must be between 0 and 100", score)
		}

		w := float64(question.EffectiveWeight())
		weighted += w * score
		weights += w
		totals.GradedCount++
	}

	switch {
	case totals.GradedCount == 0:
		totals.Status = models.GradingNone
		return totals, nil
	case totals.GradedCount < totals.QuestionCount:
		totals.Status = models.GradingPartial
	default:
		totals.Status = models.GradingComplete
	}

	total := clampScore(roundHalfUp(weighted, weights))
	totals.TotalScore = &total
	return totals, nil
}

// roundHalfUp returns num/den rounded to the nearest integer, halves going up
func roundHalfUp(num, den float64) float64 {
	return math.Floor((2*num + den) / (2 * den))
}

func clampScore(score float64) float64 {
	return math.Max(models.MinScore, math.Min(models.MaxScore, score))
}

// calculateLetterGrade maps a 0..100 total to a letter grade for reports
func calculateLetterGrade(percentage float64) string {
	switch {
	case percentage >= 97:
		return "A+"
	case percentage >= 93:
		return "A"
	case percentage >= 90:
		return "A-"
	case percentage >= 87:
		return "B+"
	case percentage >= 83:
		return "B"
	case percentage >= 80:
		return "B-"
	case percentage >= 77:
		return "C+"
	case percentage >= 73:
		return "C"
	case percentage >= 70:
		return "C-"
	case percentage >= 67:
		return "D+"
	case percentage >= 63:
		return "D"
	case percentage >= 60:
		return "D-"
	default:
		return "F"
	}
}
