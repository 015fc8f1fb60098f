package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/services"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/utils"
)

type QuizHandler struct {
	BaseHandler
	quizService services.QuizService
}

func NewQuizHandler(quizService services.QuizService, logger utils.Logger) *QuizHandler {
	return &QuizHandler{
		BaseHandler: NewBaseHandler(logger),
		quizService: quizService,
	}
}

// CreateQuiz creates a quiz with its questions
// @Summary Create quiz
// @Tags quizzes
// @Accept json
// @Produce json
// @Param quiz body models.QuizCreateRequest true "Quiz definition"
// @Success 201 {object} services.QuizResponse
// @Failure 400 {object} ErrorResponse
// @Router /quizzes [post]
func (h *QuizHandler) CreateQuiz(c *gin.Context) {
	h.LogRequest(c, "Creating quiz")

	var req models.QuizCreateRequest
	if !h.bindJSON(c, &req) {
		return
	}
	userID, _, ok := h.caller(c)
	if !ok {
		return
	}

	quiz, err := h.quizService.Create(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, quiz)
}

// GetQuiz returns a quiz; students do not see the answer key
// @Summary Get quiz
// @Tags quizzes
// @Produce json
// @Param id path string true "Quiz ID"
// @Success 200 {object} services.QuizResponse
// @Failure 404 {object} ErrorResponse
// @Router /quizzes/{id} [get]
func (h *QuizHandler) GetQuiz(c *gin.Context) {
	userID, role, ok := h.caller(c)
	if !ok {
		return
	}

	quiz, err := h.quizService.GetByID(c.Request.Context(), c.Param("id"), userID, role)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, quiz)
}

// UpdateQuiz edits a quiz that has no attempts yet
// @Summary Update quiz
// @Tags quizzes
// @Accept json
// @Produce json
// @Param id path string true "Quiz ID"
// @Param quiz body models.QuizUpdateRequest true "Changes"
// @Success 200 {object} services.QuizResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /quizzes/{id} [put]
func (h *QuizHandler) UpdateQuiz(c *gin.Context) {
	h.LogRequest(c, "Updating quiz")

	var req models.QuizUpdateRequest
	if !h.bindJSON(c, &req) {
		return
	}
	userID, role, ok := h.caller(c)
	if !ok {
		return
	}

	quiz, err := h.quizService.Update(c.Request.Context(), c.Param("id"), &req, userID, role)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, quiz)
}

// ListTeacherQuizzes lists the caller's own quizzes
// @Router /quizzes/teacher [get]
func (h *QuizHandler) ListTeacherQuizzes(c *gin.Context) {
	userID, _, ok := h.caller(c)
	if !ok {
		return
	}

	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 10)
	quizzes, err := h.quizService.ListByTeacher(c.Request.Context(), userID, page, size)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, quizzes)
}

// ListCourseQuizzes lists the quizzes of a course
// @Router /courses/{course_id}/quizzes [get]
func (h *QuizHandler) ListCourseQuizzes(c *gin.Context) {
	userID, role, ok := h.caller(c)
	if !ok {
		return
	}

	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 10)
	quizzes, err := h.quizService.ListByCourse(c.Request.Context(), c.Param("course_id"), userID, role, page, size)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, quizzes)
}

// GetAvailableTests lists what the student may still attempt, optionally filtered by ?kind=
// @Router /students/me/available-tests [get]
func (h *QuizHandler) GetAvailableTests(c *gin.Context) {
	userID, _, ok := h.caller(c)
	if !ok {
		return
	}

	var kind *models.QuizKind
	if raw := c.Query("kind"); raw != "" {
		k := models.QuizKind(raw)
		kind = &k
	}

	tests, err := h.quizService.GetAvailableTests(c.Request.Context(), userID, kind)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Data: tests, Timestamp: time.Now()})
}
