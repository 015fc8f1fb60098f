package services

import (
	"context"
	"time"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
)

// ===== QUIZ DTOs =====

type QuizResponse struct {
	*models.Quiz
	QuestionCount int  `json:"question_count"`
	CanEdit       bool `json:"can_edit"`
}

type QuizListResponse struct {
	Quizzes []*QuizResponse `json:"quizzes"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	Size    int             `json:"size"`
}

// AvailableTest is a quiz as seen by a student deciding whether to take it
type AvailableTest struct {
	QuizID            string          `json:"quiz_id"`
	Title             string          `json:"title"`
	CourseID          string          `json:"course_id"`
	Kind              models.QuizKind `json:"kind"`
	QuestionCount     int             `json:"question_count"`
	AttemptsAllowed   int             `json:"attempts_allowed"`
	AttemptsUsed      int             `json:"attempts_used"`
	AttemptsRemaining *int            `json:"attempts_remaining"` // nil when unlimited
	CanAttempt        bool            `json:"can_attempt"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ===== ATTEMPT DTOs =====

type AttemptResponse struct {
	*models.QuizAttempt
	LetterGrade       *string  `json:"letter_grade,omitempty"`
	UngradedQuestions []string `json:"ungraded_questions,omitempty"`
}

// ===== ANALYTICS DTOs =====

type ScoreBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

type StudentScore struct {
	StudentID   string  `json:"student_id"`
	StudentName string  `json:"student_name"`
	BestScore   float64 `json:"best_score"`
	Attempts    int     `json:"attempts"`
}

type QuestionInsight struct {
	QuestionID    string              `json:"question_id"`
	Prompt        string              `json:"prompt"`
	Type          models.QuestionType `json:"type"`
	AverageScore  float64             `json:"average_score"`
	GradedAnswers int                 `json:"graded_answers"`
}

type QuizAnalytics struct {
	QuizID            string            `json:"quiz_id"`
	Title             string            `json:"title"`
	TotalSubmissions  int               `json:"total_submissions"`
	GradedSubmissions int               `json:"graded_submissions"`
	UniqueStudents    int               `json:"unique_students"`
	AverageScore      float64           `json:"average_score"`
	HighestScore      float64           `json:"highest_score"`
	LowestScore       float64           `json:"lowest_score"`
	PendingAnswers    int               `json:"pending_answers"`
	ScoreDistribution []ScoreBucket     `json:"score_distribution"`
	TopStudents       []StudentScore    `json:"top_students"`
	ImprovementAreas  []QuestionInsight `json:"improvement_areas"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

type QuizSummary struct {
	QuizID         string          `json:"quiz_id"`
	Title          string          `json:"title"`
	Kind           models.QuizKind `json:"kind"`
	Submissions    int             `json:"submissions"`
	UniqueStudents int             `json:"unique_students"`
	AverageScore   float64         `json:"average_score"`
	PendingAnswers int             `json:"pending_answers"`
}

type TeacherOverview struct {
	TeacherID        string         `json:"teacher_id"`
	TotalQuizzes     int            `json:"total_quizzes"`
	TotalSubmissions int            `json:"total_submissions"`
	PendingAnswers   int            `json:"pending_answers"`
	Quizzes          []*QuizSummary `json:"quizzes"`
}

type SubmissionAnswer struct {
	QuestionID string              `json:"question_id"`
	Prompt     string              `json:"prompt"`
	Type       models.QuestionType `json:"type"`
	AnswerText string              `json:"answer_text"`
	Score      *float64            `json:"score"`
	Feedback   string              `json:"feedback"`
	Evaluated  bool                `json:"evaluated"`
}

type Submission struct {
	AttemptID     string               `json:"attempt_id"`
	StudentID     string               `json:"student_id"`
	StudentName   string               `json:"student_name"`
	AttemptNumber int                  `json:"attempt_number"`
	TotalScore    *float64             `json:"total_score"`
	GradingStatus models.GradingStatus `json:"grading_status"`
	SubmittedAt   time.Time            `json:"submitted_at"`
	Answers       []SubmissionAnswer   `json:"answers"`
}

type SubmissionsResponse struct {
	QuizID      string        `json:"quiz_id"`
	Title       string        `json:"title"`
	Submissions []*Submission `json:"submissions"`
}

// GradebookFile is a rendered spreadsheet ready to download
type GradebookFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ===== SERVICE INTERFACES =====

type QuizService interface {
	Create(ctx context.Context, req *models.QuizCreateRequest, teacherID string) (*QuizResponse, error)
	// GetByID hides the answer key unless the caller manages the quiz
	GetByID(ctx context.Context, id, userID string, role models.UserRole) (*QuizResponse, error)
	// Update is refused once the quiz has attempts
	Update(ctx context.Context, id string, req *models.QuizUpdateRequest, userID string, role models.UserRole) (*QuizResponse, error)
	ListByTeacher(ctx context.Context, teacherID string, page, size int) (*QuizListResponse, error)
	ListByCourse(ctx context.Context, courseID, userID string, role models.UserRole, page, size int) (*QuizListResponse, error)
	GetAvailableTests(ctx context.Context, studentID string, kind *models.QuizKind) ([]*AvailableTest, error)
}

type AttemptService interface {
	Submit(ctx context.Context, studentID, quizID string, req *models.AttemptSubmitRequest) (*AttemptResponse, error)
	// GetAttempts returns a student's attempts ordered by attempt number
	GetAttempts(ctx context.Context, studentID, quizID string) ([]*AttemptResponse, error)
	GetAttempt(ctx context.Context, attemptID, userID string, role models.UserRole) (*AttemptResponse, error)
}

type GradingService interface {
	// RegradePending asks the oracle again for every ungraded answer of an attempt
	RegradePending(ctx context.Context, attemptID, userID string, role models.UserRole) (*AttemptResponse, error)
	// GradeAnswer sets a score by hand
	GradeAnswer(ctx context.Context, attemptID, questionID string, req *models.ManualGradeRequest, userID string, role models.UserRole) (*AttemptResponse, error)
}

type AnalyticsService interface {
	GetQuizAnalytics(ctx context.Context, quizID, userID string, role models.UserRole) (*QuizAnalytics, error)
	GetTeacherOverview(ctx context.Context, teacherID string) (*TeacherOverview, error)
	GetSubmissions(ctx context.Context, quizID, userID string, role models.UserRole) (*SubmissionsResponse, error)
}

type ExportService interface {
	ExportGradebook(ctx context.Context, quizID, userID string, role models.UserRole) (*GradebookFile, error)
}

type ServiceManager interface {
	Initialize(ctx context.Context) error
	Quiz() QuizService
	Attempt() AttemptService
	Grading() GradingService
	Analytics() AnalyticsService
	Export() ExportService
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
