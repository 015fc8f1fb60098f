package models

type QuestionCreateRequest struct {
	ID            string       `json:"id" validate:"omitempty,uuid"`
	Type          QuestionType `json:"type" validate:"required,question_type"`
	Prompt        string       `json:"prompt" validate:"required,min=1,max=4000"`
	Options       []string     `json:"options" validate:"omitempty,max=20,dive,required,max=1000"`
	CorrectAnswer *string      `json:"correct_answer" validate:"omitempty,max=1000"`
	Rubric        *string      `json:"rubric" validate:"omitempty,max=4000"`
	Weight        int          `json:"weight" validate:"omitempty,min=1,max=100"`
}

type QuizCreateRequest struct {
	Title           string                  `json:"title" validate:"required,min=1,max=200"`
	CourseID        string                  `json:"course_id" validate:"required,max=255"`
	Kind            QuizKind                `json:"kind" validate:"omitempty,quiz_kind"`
	AttemptsAllowed *int                    `json:"attempts_allowed" validate:"omitempty,min=0,max=100"`
	Questions       []QuestionCreateRequest `json:"questions" validate:"required,min=1,max=200,dive"`
}

type QuizUpdateRequest struct {
	Title           *string                 `json:"title" validate:"omitempty,min=1,max=200"`
	AttemptsAllowed *int                    `json:"attempts_allowed" validate:"omitempty,min=0,max=100"`
	Questions       []QuestionCreateRequest `json:"questions" validate:"omitempty,max=200,dive"`
}

type AnswerSubmission struct {
	QuestionID string `json:"question_id" validate:"required"`
	AnswerText string `json:"answer_text" validate:"max=10000"`
}

type AttemptSubmitRequest struct {
	Answers []AnswerSubmission `json:"answers" validate:"required,min=1,dive"`
}

type ManualGradeRequest struct {
	Score    float64 `json:"score" validate:"score_range"`
	Feedback *string `json:"feedback" validate:"omitempty,max=4000"`
}
