package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type QuizKind string

const (
	KindQuiz QuizKind = "quiz"
	KindSAQ  QuizKind = "saq"
)

// DefaultSAQAttemptsAllowed matches the single attempt short-answer tests had by default.
const DefaultSAQAttemptsAllowed = 1

type Quiz struct {
	ID        string   `json:"id" gorm:"primaryKey;size:36"`
	Title     string   `json:"title" gorm:"not null;size:200"`
	CourseID  string   `json:"course_id" gorm:"not null;index;size:255"`
	CreatedBy string   `json:"created_by" gorm:"not null;index;size:255"`
	Kind      QuizKind `json:"kind" gorm:"not null;default:quiz;size:10"`

	// 0 means unlimited
	AttemptsAllowed int `json:"attempts_allowed" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Questions []Question `json:"questions" gorm:"foreignKey:QuizID;constraint:OnDelete:CASCADE"`
}

func (q *Quiz) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	return nil
}

// QuestionByID looks up a question of this quiz.
func (q *Quiz) QuestionByID(id string) (*Question, bool) {
	for i := range q.Questions {
		if q.Questions[i].ID == id {
			return &q.Questions[i], true
		}
	}
	return nil, false
}

// IsMCQOnly reports whether every question is multiple choice.
func (q *Quiz) IsMCQOnly() bool {
	for _, question := range q.Questions {
		if question.Type != MultipleChoice {
			return false
		}
	}
	return len(q.Questions) > 0
}

// StudentView strips answer keys from every question.
func (q Quiz) StudentView() Quiz {
	questions := make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		questions[i] = question.StudentView()
	}
	q.Questions = questions
	return q
}
