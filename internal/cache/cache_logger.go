package cache

import (
	"context"
	"log/slog"
)

// Key builders shared by repositories and services
func QuizKey(quizID string) string { return "id:" + quizID }

func AttemptKey(attemptID string) string { return "id:" + attemptID }

func QuizStatsKey(quizID string) string { return "quiz:" + quizID + ":analytics" }

func TeacherStatsKey(teacherID string) string { return "teacher:" + teacherID + ":overview" }

// SafeInvalidatePattern invalidates a cache pattern, logging instead of failing
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete deletes cache keys, logging instead of failing
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateQuiz drops a quiz definition and everything derived from it
func InvalidateQuiz(ctx context.Context, cm *CacheManager, quizID, teacherID string) {
	if cm == nil {
		return
	}
	SafeDelete(ctx, cm.Quiz, QuizKey(quizID))
	InvalidateQuizResults(ctx, cm, quizID, teacherID)
}

// InvalidateAttempt drops a cached attempt. Call it after the write has committed.
func InvalidateAttempt(ctx context.Context, cm *CacheManager, attemptID string) {
	if cm == nil {
		return
	}
	SafeDelete(ctx, cm.Attempt, AttemptKey(attemptID))
}

// InvalidateQuizResults drops aggregates that change whenever an attempt is stored or graded
func InvalidateQuizResults(ctx context.Context, cm *CacheManager, quizID, teacherID string) {
	if cm == nil {
		return
	}
	SafeDelete(ctx, cm.Stats, QuizStatsKey(quizID))
	if teacherID != "" {
		SafeInvalidatePattern(ctx, cm.Stats, "teacher:"+teacherID+":*")
	}
}
