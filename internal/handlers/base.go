package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/oracle"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/services"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/utils"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/validator"
)

type ErrorResponse struct {
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BaseHandler carries the logger and the shared error mapping
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string) {
	utils.GetLogger(c, h.logger).Debug(msg,
		"method", c.Request.Method,
		"path", c.FullPath(),
		"user_id", c.GetString("user_id"),
	)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, msg string) {
	_ = c.Error(err)
	utils.GetLogger(c, h.logger).Error(msg, "error", err, "path", c.FullPath())
}

// caller returns the authenticated user set by the auth middleware
func (h *BaseHandler) caller(c *gin.Context) (string, models.UserRole, bool) {
	userID, err := GetUserIDFromContext(c)
	if err != nil || userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return "", "", false
	}
	role, err := GetUserRoleFromContext(c)
	if err != nil {
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "User role not found"})
		return "", "", false
	}
	return userID, role, true
}

func (h *BaseHandler) bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return false
	}
	return true
}

func (h *BaseHandler) parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Code:    "validation_error",
			Details: fieldErrors,
		})
		return
	}

	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Code:    "validation_error",
			Details: validationErrors,
		})
		return
	}

	var validationError *services.ValidationError
	if errors.As(err, &validationError) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: validationError.Message,
			Code:    "validation_error",
			Details: validationError,
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Code:    "permission_denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	var notFound *services.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: notFound.Error(),
			Code:    "not_found",
		})
		return
	}

	var conflict *services.ConcurrencyConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Concurrent submission conflict, please retry",
			Code:    "concurrency_conflict",
			Details: map[string]interface{}{"attempts": conflict.Attempts},
		})
		return
	}

	var timeoutErr *oracle.TimeoutError
	if errors.As(err, &timeoutErr) {
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{
			Message: "Scoring oracle timed out",
			Code:    "oracle_timeout",
		})
		return
	}

	var failureErr *oracle.FailureError
	if errors.As(err, &failureErr) {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Message: "Scoring oracle failed",
			Code:    "oracle_failure",
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrMaxAttemptsReached):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Maximum attempts reached",
			Code:    "max_attempts_reached",
		})
	case errors.Is(err, services.ErrQuizHasAttempts):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Quiz already has attempts",
			Code:    "validation_error",
		})
	default:
		h.LogError(c, err, "Unexpected service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
