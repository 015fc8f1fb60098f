package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/cache"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/validator"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	// upper bound when listing every quiz of a course for a student
	availableTestsLimit = 500
)

type quizService struct {
	repo         repositories.Repository
	cacheManager *cache.CacheManager
	logger       *slog.Logger
	validator    *validator.Validator
}

func NewQuizService(repo repositories.Repository, cacheManager *cache.CacheManager, logger *slog.Logger, validator *validator.Validator) QuizService {
	return &quizService{
		repo:         repo,
		cacheManager: cacheManager,
		logger:       logger,
		validator:    validator,
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *quizService) Create(ctx context.Context, req *models.QuizCreateRequest, teacherID string) (*QuizResponse, error) {
	s.logger.Info("Creating quiz", "teacher_id", teacherID, "title", req.Title, "questions", len(req.Questions))

	if err := s.validator.ValidateQuiz(req); err != nil {
		return nil, err
	}

	kind := req.Kind
	if kind == "" {
		kind = models.KindQuiz
	}

	quiz := &models.Quiz{
		Title:     strings.TrimSpace(req.Title),
		CourseID:  req.CourseID,
		CreatedBy: teacherID,
		Kind:      kind,
		Questions: buildQuestions(req.Questions),
	}
	switch {
	case req.AttemptsAllowed != nil:
		quiz.AttemptsAllowed = *req.AttemptsAllowed
	case kind == models.KindSAQ:
		quiz.AttemptsAllowed = models.DefaultSAQAttemptsAllowed
	}

	if err := s.repo.Quiz().Create(ctx, nil, quiz); err != nil {
		return nil, fmt.Errorf("failed to create quiz: %w", err)
	}

	// Teacher overview lists this quiz now
	cache.InvalidateQuizResults(ctx, s.cacheManager, quiz.ID, teacherID)

	s.logger.Info("Quiz created successfully", "quiz_id", quiz.ID, "kind", quiz.Kind)

	return toQuizResponse(quiz, true), nil
}

func (s *quizService) GetByID(ctx context.Context, id, userID string, role models.UserRole) (*QuizResponse, error) {
	quiz, err := s.getQuiz(ctx, id)
	if err != nil {
		return nil, err
	}

	if canManageQuiz(quiz, userID, role) {
		return toQuizResponse(quiz, true), nil
	}

	view := quiz.StudentView()
	return toQuizResponse(&view, false), nil
}

func (s *quizService) Update(ctx context.Context, id string, req *models.QuizUpdateRequest, userID string, role models.UserRole) (*QuizResponse, error) {
	s.logger.Info("Updating quiz", "quiz_id", id, "user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	if len(req.Questions) > 0 {
		if err := s.validator.ValidateQuestions(req.Questions); err != nil {
			return nil, err
		}
	}

	quiz, err := s.getQuiz(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManageQuiz(quiz, userID, role) {
		return nil, NewPermissionError(userID, id, "quiz", "update", "not the owner of this quiz")
	}

	hasAttempts, err := s.repo.Quiz().HasAttempts(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check quiz attempts: %w", err)
	}
	if hasAttempts {
		return nil, NewValidationError("quiz", ErrQuizHasAttempts.Error(), id)
	}

	if req.Title != nil {
		quiz.Title = strings.TrimSpace(*req.Title)
	}
	if req.AttemptsAllowed != nil {
		quiz.AttemptsAllowed = *req.AttemptsAllowed
	}
	if len(req.Questions) > 0 {
		quiz.Questions = buildQuestions(req.Questions)
		for i := range quiz.Questions {
			quiz.Questions[i].QuizID = quiz.ID
		}
	} else {
		quiz.Questions = nil
	}

	if err := s.repo.Quiz().Update(ctx, nil, quiz); err != nil {
		return nil, fmt.Errorf("failed to update quiz: %w", err)
	}

	s.logger.Info("Quiz updated successfully", "quiz_id", id)

	// Reload so the response carries the stored question set
	updated, err := s.getQuiz(ctx, id)
	if err != nil {
		return nil, err
	}
	return toQuizResponse(updated, true), nil
}

// ===== LISTS =====

func (s *quizService) ListByTeacher(ctx context.Context, teacherID string, page, size int) (*QuizListResponse, error) {
	page, size = normalizePage(page, size)

	quizzes, total, err := s.repo.Quiz().ListByTeacher(ctx, nil, teacherID, repositories.QuizFilters{
		Limit:  size,
		Offset: (page - 1) * size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list quizzes: %w", err)
	}

	resp := &QuizListResponse{Total: total, Page: page, Size: size}
	for _, quiz := range quizzes {
		resp.Quizzes = append(resp.Quizzes, toQuizResponse(quiz, true))
	}
	return resp, nil
}

func (s *quizService) ListByCourse(ctx context.Context, courseID, userID string, role models.UserRole, page, size int) (*QuizListResponse, error) {
	page, size = normalizePage(page, size)

	quizzes, total, err := s.repo.Quiz().ListByCourse(ctx, nil, courseID, repositories.QuizFilters{
		Limit:  size,
		Offset: (page - 1) * size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list course quizzes: %w", err)
	}

	resp := &QuizListResponse{Total: total, Page: page, Size: size}
	for _, quiz := range quizzes {
		if canManageQuiz(quiz, userID, role) {
			resp.Quizzes = append(resp.Quizzes, toQuizResponse(quiz, true))
			continue
		}
		view := quiz.StudentView()
		resp.Quizzes = append(resp.Quizzes, toQuizResponse(&view, false))
	}
	return resp, nil
}

// GetAvailableTests lists quizzes with the student's remaining attempts
func (s *quizService) GetAvailableTests(ctx context.Context, studentID string, kind *models.QuizKind) ([]*AvailableTest, error) {
	quizzes, _, err := s.repo.Quiz().List(ctx, nil, repositories.QuizFilters{
		Kind:      kind,
		Limit:     availableTestsLimit,
		SortBy:    "created_at",
		SortOrder: "desc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list quizzes: %w", err)
	}

	ids := make([]string, len(quizzes))
	for i, quiz := range quizzes {
		ids[i] = quiz.ID
	}
	used, err := s.repo.Attempt().CountsByStudent(ctx, nil, studentID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}

	tests := make([]*AvailableTest, 0, len(quizzes))
	for _, quiz := range quizzes {
		test := &AvailableTest{
			QuizID:          quiz.ID,
			Title:           quiz.Title,
			CourseID:        quiz.CourseID,
			Kind:            quiz.Kind,
			QuestionCount:   len(quiz.Questions),
			AttemptsAllowed: quiz.AttemptsAllowed,
			AttemptsUsed:    used[quiz.ID],
			CanAttempt:      true,
			CreatedAt:       quiz.CreatedAt,
		}
		if quiz.AttemptsAllowed > 0 {
			remaining := max(quiz.AttemptsAllowed-test.AttemptsUsed, 0)
			test.AttemptsRemaining = &remaining
			test.CanAttempt = remaining > 0
		}
		tests = append(tests, test)
	}

	return tests, nil
}

// ===== HELPERS =====

func (s *quizService) getQuiz(ctx context.Context, id string) (*models.Quiz, error) {
	quiz, err := s.repo.Quiz().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, newNotFound("quiz", id)
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	return quiz, nil
}

func buildQuestions(reqs []models.QuestionCreateRequest) []models.Question {
	questions := make([]models.Question, len(reqs))
	for i, req := range reqs {
		question := models.Question{
			ID:       req.ID,
			Position: i + 1,
			Type:     req.Type,
			Prompt:   strings.TrimSpace(req.Prompt),
			Weight:   req.Weight,
		}
		if question.Weight <= 0 {
			question.Weight = models.DefaultQuestionWeight
		}

		switch req.Type {
		case models.MultipleChoice:
			question.Options = datatypes.JSONSlice[string](req.Options)
			question.CorrectAnswer = req.CorrectAnswer
		case models.ShortAnswer:
			question.Rubric = req.Rubric
		}
		questions[i] = question
	}
	return questions
}

func toQuizResponse(quiz *models.Quiz, canEdit bool) *QuizResponse {
	return &QuizResponse{
		Quiz:          quiz,
		QuestionCount: len(quiz.Questions),
		CanEdit:       canEdit,
	}
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
