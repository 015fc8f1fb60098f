package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "MCQ"
	ShortAnswer    QuestionType = "ShortAnswer"
)

// IsValid reports whether the question type is one the grader knows.
func (t QuestionType) IsValid() bool {
	return t == MultipleChoice || t == ShortAnswer
}

const DefaultQuestionWeight = 1

type Question struct {
	ID       string       `json:"id" gorm:"primaryKey;size:36"`
	QuizID   string       `json:"quiz_id" gorm:"not null;index;size:36"`
	Position int          `json:"position" gorm:"not null;default:0"`
	Type     QuestionType `json:"type" gorm:"not null;size:20"`
	Prompt   string       `json:"prompt" gorm:"type:text;not null"`

	// MCQ only
	Options       datatypes.JSONSlice[string] `json:"options,omitempty" gorm:"type:jsonb"`
	CorrectAnswer *string                     `json:"correct_answer,omitempty" gorm:"type:text"`

	// ShortAnswer only: reference answer or grading notes handed to the oracle
	Rubric *string `json:"rubric,omitempty" gorm:"type:text"`

	Weight int `json:"weight" gorm:"not null;default:1"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (q *Question) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Weight <= 0 {
		q.Weight = DefaultQuestionWeight
	}
	return nil
}

// EffectiveWeight never returns less than the default weight.
func (q *Question) EffectiveWeight() int {
	if q.Weight <= 0 {
		return DefaultQuestionWeight
	}
	return q.Weight
}

// StudentView returns a copy without the answer key.
func (q Question) StudentView() Question {
	q.CorrectAnswer = nil
	q.Rubric = nil
	return q
}
