package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/config"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/services"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/utils"
)

const healthCheckTimeout = 3 * time.Second

type HandlerManager struct {
	quizHandler      *QuizHandler
	attemptHandler   *AttemptHandler
	analyticsHandler *AnalyticsHandler
	authMiddleware   *CasdoorAuthMiddleware
	serviceManager   services.ServiceManager
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	return newHandlerManager(serviceManager, logger, NewCasdoorAuthMiddleware(casdoorConfig, userRepo, logger))
}

func newHandlerManager(serviceManager services.ServiceManager, logger utils.Logger, authMiddleware *CasdoorAuthMiddleware) *HandlerManager {
	return &HandlerManager{
		quizHandler:      NewQuizHandler(serviceManager.Quiz(), logger),
		attemptHandler:   NewAttemptHandler(serviceManager.Attempt(), serviceManager.Grading(), logger),
		analyticsHandler: NewAnalyticsHandler(serviceManager.Analytics(), serviceManager.Export(), logger),
		authMiddleware:   authMiddleware,
		serviceManager:   serviceManager,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	staff := hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin)
	students := hm.authMiddleware.RequireRoleMiddleware(models.RoleStudent)

	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		quizzes := v1.Group("/quizzes")
		{
			quizzes.POST("", staff, hm.quizHandler.CreateQuiz)
			quizzes.GET("/teacher", staff, hm.quizHandler.ListTeacherQuizzes)
			quizzes.GET("/:id", hm.quizHandler.GetQuiz)
			quizzes.PUT("/:id", staff, hm.quizHandler.UpdateQuiz)

			// Attempts are taken by students only
			quizzes.POST("/:id/attempts", students, hm.attemptHandler.SubmitAttempt)
			quizzes.GET("/:id/attempts", students, hm.attemptHandler.ListMyAttempts)

			quizzes.GET("/:id/submissions", staff, hm.analyticsHandler.GetSubmissions)
			quizzes.GET("/:id/analytics", staff, hm.analyticsHandler.GetQuizAnalytics)
			quizzes.GET("/:id/gradebook.xlsx", staff, hm.analyticsHandler.ExportGradebook)
		}

		v1.GET("/courses/:course_id/quizzes", hm.quizHandler.ListCourseQuizzes)

		attempts := v1.Group("/attempts")
		{
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.POST("/:id/regrade", staff, hm.attemptHandler.RegradeAttempt)
			attempts.PUT("/:id/answers/:question_id/grade", staff, hm.attemptHandler.GradeAnswer)
		}

		v1.GET("/teacher/analytics", staff, hm.analyticsHandler.GetTeacherOverview)
		v1.GET("/students/me/available-tests", students, hm.quizHandler.GetAvailableTests)
	}

	router.GET("/health", hm.health)
}

func (hm *HandlerManager) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	if err := hm.serviceManager.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "quiz-scoring-service",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "quiz-scoring-service",
	})
}
