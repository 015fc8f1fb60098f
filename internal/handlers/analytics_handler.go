package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/services"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/utils"
)

type AnalyticsHandler struct {
	BaseHandler
	analyticsService services.AnalyticsService
	exportService    services.ExportService
}

func NewAnalyticsHandler(analyticsService services.AnalyticsService, exportService services.ExportService, logger utils.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		BaseHandler:      NewBaseHandler(logger),
		analyticsService: analyticsService,
		exportService:    exportService,
	}
}

// GetQuizAnalytics returns score statistics for one quiz
// @Summary Quiz analytics
// @Tags analytics
// @Produce json
// @Param id path string true "Quiz ID"
// @Success 200 {object} services.QuizAnalytics
// @Router /quizzes/{id}/analytics [get]
func (h *AnalyticsHandler) GetQuizAnalytics(c *gin.Context) {
	userID, role, ok := h.caller(c)
	if !ok {
		return
	}

	analytics, err := h.analyticsService.GetQuizAnalytics(c.Request.Context(), c.Param("id"), userID, role)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, analytics)
}

// GetSubmissions lists every attempt at a quiz with per-answer scores
// @Router /quizzes/{id}/submissions [get]
func (h *AnalyticsHandler) GetSubmissions(c *gin.Context) {
	userID, role, ok := h.caller(c)
	if !ok {
		return
	}

	submissions, err := h.analyticsService.GetSubmissions(c.Request.Context(), c.Param("id"), userID, role)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, submissions)
}

// @Router /teacher/analytics [get]
func (h *AnalyticsHandler) GetTeacherOverview(c *gin.Context) {
	userID, _, ok := h.caller(c)
	if !ok {
		return
	}

	overview, err := h.analyticsService.GetTeacherOverview(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, overview)
}

// ExportGradebook downloads the quiz gradebook as a spreadsheet
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Router /quizzes/{id}/gradebook.xlsx [get]
func (h *AnalyticsHandler) ExportGradebook(c *gin.Context) {
	h.LogRequest(c, "Exporting gradebook")

	userID, role, ok := h.caller(c)
	if !ok {
		return
	}

	file, err := h.exportService.ExportGradebook(c.Request.Context(), c.Param("id"), userID, role)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
