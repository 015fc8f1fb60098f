package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/services"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/utils"
)

const (
	studentToken = "student-token"
	teacherToken = "teacher-token"
	adminToken   = "admin-token"
)

// fakeTokens accepts three fixed tokens
type fakeTokens struct{}

func (fakeTokens) ParseJwtToken(token string) (*casdoorsdk.Claims, error) {
	switch token {
	case studentToken:
		return &casdoorsdk.Claims{User: casdoorsdk.User{Id: "student-1", Type: "student", DisplayName: "Sam"}}, nil
	case teacherToken:
		return &casdoorsdk.Claims{User: casdoorsdk.User{Id: "teacher-1", Type: "teacher"}}, nil
	case adminToken:
		return &casdoorsdk.Claims{User: casdoorsdk.User{Id: "admin-1", Type: "normal-user", IsAdmin: true}}, nil
	}
	return nil, errors.New("token signature is invalid")
}

type stubQuizService struct {
	create    func(req *models.QuizCreateRequest, teacherID string) (*services.QuizResponse, error)
	get       func(id, userID string, role models.UserRole) (*services.QuizResponse, error)
	available func(studentID string, kind *models.QuizKind) ([]*services.AvailableTest, error)
}

func (s *stubQuizService) Create(ctx context.Context, req *models.QuizCreateRequest, teacherID string) (*services.QuizResponse, error) {
	return s.create(req, teacherID)
}

func (s *stubQuizService) GetByID(ctx context.Context, id, userID string, role models.UserRole) (*services.QuizResponse, error) {
	return s.get(id, userID, role)
}

func (s *stubQuizService) Update(ctx context.Context, id string, req *models.QuizUpdateRequest, userID string, role models.UserRole) (*services.QuizResponse, error) {
	return nil, services.ErrQuizHasAttempts
}

func (s *stubQuizService) ListByTeacher(ctx context.Context, teacherID string, page, size int) (*services.QuizListResponse, error) {
	return &services.QuizListResponse{Page: page, Size: size}, nil
}

func (s *stubQuizService) ListByCourse(ctx context.Context, courseID, userID string, role models.UserRole, page, size int) (*services.QuizListResponse, error) {
	return &services.QuizListResponse{Page: page, Size: size}, nil
}

func (s *stubQuizService) GetAvailableTests(ctx context.Context, studentID string, kind *models.QuizKind) ([]*services.AvailableTest, error) {
	return s.available(studentID, kind)
}

type stubAttemptService struct {
	submit func(studentID, quizID string, req *models.AttemptSubmitRequest) (*services.AttemptResponse, error)
}

func (s *stubAttemptService) Submit(ctx context.Context, studentID, quizID string, req *models.AttemptSubmitRequest) (*services.AttemptResponse, error) {
	return s.submit(studentID, quizID, req)
}

func (s *stubAttemptService) GetAttempts(ctx context.Context, studentID, quizID string) ([]*services.AttemptResponse, error) {
	return []*services.AttemptResponse{}, nil
}

func (s *stubAttemptService) GetAttempt(ctx context.Context, attemptID, userID string, role models.UserRole) (*services.AttemptResponse, error) {
	return nil, &services.NotFoundError{Resource: "attempt", ID: attemptID}
}

type stubGradingService struct {
	grade func(attemptID, questionID string, req *models.ManualGradeRequest, userID string) (*services.AttemptResponse, error)
}

func (s *stubGradingService) RegradePending(ctx context.Context, attemptID, userID string, role models.UserRole) (*services.AttemptResponse, error) {
	return nil, errors.New("not used")
}

func (s *stubGradingService) GradeAnswer(ctx context.Context, attemptID, questionID string, req *models.ManualGradeRequest, userID string, role models.UserRole) (*services.AttemptResponse, error) {
	return s.grade(attemptID, questionID, req, userID)
}

type stubAnalyticsService struct{}

func (stubAnalyticsService) GetQuizAnalytics(ctx context.Context, quizID, userID string, role models.UserRole) (*services.QuizAnalytics, error) {
	return &services.QuizAnalytics{QuizID: quizID}, nil
}

func (stubAnalyticsService) GetTeacherOverview(ctx context.Context, teacherID string) (*services.TeacherOverview, error) {
	return &services.TeacherOverview{TeacherID: teacherID}, nil
}

func (stubAnalyticsService) GetSubmissions(ctx context.Context, quizID, userID string, role models.UserRole) (*services.SubmissionsResponse, error) {
	return &services.SubmissionsResponse{QuizID: quizID}, nil
}

type stubExportService struct {
	file *services.GradebookFile
}

func (s stubExportService) ExportGradebook(ctx context.Context, quizID, userID string, role models.UserRole) (*services.GradebookFile, error) {
	return s.file, nil
}

type stubServiceManager struct {
	quiz      services.QuizService
	attempt   services.AttemptService
	grading   services.GradingService
	analytics services.AnalyticsService
	export    services.ExportService
	healthErr error
}

func (m *stubServiceManager) Initialize(ctx context.Context) error { return nil }
func (m *stubServiceManager) Quiz() services.QuizService { return m.quiz }
func (m *stubServiceManager) Attempt() services.AttemptService { return m.attempt }
func (m *stubServiceManager) Grading() services.GradingService { return m.grading }
func (m *stubServiceManager) Analytics() services.AnalyticsService { return m.analytics }
func (m *stubServiceManager) Export() services.ExportService { return m.export }
func (m *stubServiceManager) HealthCheck(ctx context.Context) error { return m.healthErr }
func (m *stubServiceManager) Shutdown(ctx context.Context) error { return nil }

func newStubServiceManager() *stubServiceManager {
	return &stubServiceManager{
		quiz:      &stubQuizService{},
		attempt:   &stubAttemptService{},
		grading:   &stubGradingService{},
		analytics: stubAnalyticsService{},
		export:    stubExportService{},
	}
}

func testLogger() utils.Logger {
	return utils.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestRouter(sm services.ServiceManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := testLogger()
	router := gin.New()
	SetupMiddleware(router, logger)
	newHandlerManager(sm, logger, newCasdoorAuthMiddleware(fakeTokens{}, nil, logger)).SetupRoutes(router)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}
