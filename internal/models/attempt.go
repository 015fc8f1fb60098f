package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GradingStatus string

const (
	GradingComplete GradingStatus = "graded"
	GradingPartial  GradingStatus = "partially_graded"
	GradingNone     GradingStatus = "ungraded"
)

type AnswerStatus string

const (
	AnswerGraded   AnswerStatus = "graded"
	AnswerUngraded AnswerStatus = "ungraded"
)

const (
	GradedByAuto   = "auto"
	GradedByOracle = "oracle"
)

const (
	MinScore = 0.0
	MaxScore = 100.0
)

type QuizAttempt struct {
	ID            string `json:"id" gorm:"primaryKey;size:36"`
	StudentID     string `json:"student_id" gorm:"not null;size:255;uniqueIndex:idx_student_quiz_attempt,priority:1"`
	QuizID        string `json:"quiz_id" gorm:"not null;size:36;index;uniqueIndex:idx_student_quiz_attempt,priority:2"`
	AttemptNumber int    `json:"attempt_number" gorm:"not null;uniqueIndex:idx_student_quiz_attempt,priority:3"`

	// NULL until at least one answer is graded
	TotalScore    *float64      `json:"total_score" gorm:"check:chk_total_score_range,total_score IS NULL OR (total_score >= 0 AND total_score <= 100)"`
	GradingStatus GradingStatus `json:"grading_status" gorm:"not null;default:ungraded;index;size:20"`
	GradedCount   int           `json:"graded_count"`
	QuestionCount int           `json:"question_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Answers []AttemptAnswer `json:"answers" gorm:"foreignKey:AttemptID;constraint:OnDelete:RESTRICT"`
}

func (a *QuizAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// AnswerFor returns the answer recorded for a question.
func (a *QuizAttempt) AnswerFor(questionID string) (*AttemptAnswer, bool) {
	for i := range a.Answers {
		if a.Answers[i].QuestionID == questionID {
			return &a.Answers[i], true
		}
	}
	return nil, false
}

type AttemptAnswer struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	AttemptID  string `json:"attempt_id" gorm:"not null;index;size:36"`
	QuestionID string `json:"question_id" gorm:"not null;size:36"`
	Position   int    `json:"position"`
	AnswerText string `json:"answer_text" gorm:"type:text"`

	// Grading. IsCorrect is set for MCQ, AIScore for ShortAnswer.
	IsCorrect *bool        `json:"is_correct"`
	AIScore   *float64     `json:"ai_score" gorm:"check:chk_ai_score_range,ai_score IS NULL OR (ai_score >= 0 AND ai_score <= 100)"`
	Feedback  *string      `json:"feedback" gorm:"type:text"`
	Status    AnswerStatus `json:"status" gorm:"not null;default:ungraded;size:20"`
	GradedBy  *string      `json:"graded_by" gorm:"size:255"`
	GradedAt  *time.Time   `json:"graded_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsGraded distinguishes a graded zero from a missing grade.
func (a *AttemptAnswer) IsGraded() bool {
	return a.Status == AnswerGraded
}

// AttemptCounter holds the last attempt number handed out per student and quiz.
type AttemptCounter struct {
	StudentID  string    `gorm:"primaryKey;size:255"`
	QuizID     string    `gorm:"primaryKey;size:36"`
	LastNumber int       `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (AttemptCounter) TableName() string {
	return "attempt_counters"
}
