package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/services"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/utils"
)

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	gradingService services.GradingService
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	gradingService services.GradingService,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		gradingService: gradingService,
	}
}

// SubmitAttempt grades and records a student's answers as their next attempt
// @Summary Submit quiz attempt
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path string true "Quiz ID"
// @Param attempt body models.AttemptSubmitRequest true "Answers"
// @Success 201 {object} services.AttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /quizzes/{id}/attempts [post]
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	h.LogRequest(c, "Submitting quiz attempt")

	var req models.AttemptSubmitRequest
	if !h.bindJSON(c, &req) {
		return
	}
	userID, _, ok := h.caller(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.Submit(c.Request.Context(), userID, c.Param("id"), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, attempt)
}

// ListMyAttempts returns the caller's attempts at a quiz in attempt order
// @Router /quizzes/{id}/attempts [get]
func (h *AttemptHandler) ListMyAttempts(c *gin.Context) {
	userID, _, ok := h.caller(c)
	if !ok {
		return
	}

	attempts, err := h.attemptService.GetAttempts(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Data: attempts, Timestamp: time.Now()})
}

// GetAttempt returns one attempt to its student or the quiz owner
// @Router /attempts/{id} [get]
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	userID, role, ok := h.caller(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.GetAttempt(c.Request.Context(), c.Param("id"), userID, role)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// RegradeAttempt retries the oracle for every ungraded answer
// @Router /attempts/{id}/regrade [post]
func (h *AttemptHandler) RegradeAttempt(c *gin.Context) {
	h.LogRequest(c, "Regrading pending answers")

	userID, role, ok := h.caller(c)
	if !ok {
		return
	}

	attempt, err := h.gradingService.RegradePending(c.Request.Context(), c.Param("id"), userID, role)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// GradeAnswer sets one answer's score by hand
// @Router /attempts/{id}/answers/{question_id}/grade [put]
func (h *AttemptHandler) GradeAnswer(c *gin.Context) {
	h.LogRequest(c, "Grading answer manually")

	var req models.ManualGradeRequest
	if !h.bindJSON(c, &req) {
		return
	}
	userID, role, ok := h.caller(c)
	if !ok {
		return
	}

	attempt, err := h.gradingService.GradeAnswer(c.Request.Context(), c.Param("id"), c.Param("question_id"), &req, userID, role)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}
