package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/cache"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories"
)

const (
	notEvaluatedFeedback = "Not evaluated"
	topStudentsLimit     = 5
	// questions averaging below this are reported as improvement areas
	improvementThreshold = 50.0
	overviewQuizLimit    = 500
)

var bucketLabels = []string{"0-9", "10-19", "20-29", "30-39", "40-49", "50-59", "60-69", "70-79", "80-89", "90-100"}

type analyticsService struct {
	repo         repositories.Repository
	cacheManager *cache.CacheManager
	logger       *slog.Logger
	now          func() time.Time
}

func NewAnalyticsService(repo repositories.Repository, cacheManager *cache.CacheManager, logger *slog.Logger) AnalyticsService {
	return &analyticsService{
		repo:         repo,
		cacheManager: cacheManager,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *analyticsService) GetQuizAnalytics(ctx context.Context, quizID, userID string, role models.UserRole) (*QuizAnalytics, error) {
	quiz, err := s.managedQuiz(ctx, quizID, userID, role, "view analytics")
	if err != nil {
		return nil, err
	}

	var analytics QuizAnalytics
	err = s.cacheManager.Stats.CacheOrExecute(ctx, cache.QuizStatsKey(quizID), &analytics, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		attempts, err := s.repo.Attempt().ListByQuiz(ctx, nil, quizID)
		if err != nil {
			return nil, fmt.Errorf("failed to list attempts: %w", err)
		}
		names := s.studentNames(ctx, attempts)
		return computeQuizAnalytics(quiz, attempts, names, s.now()), nil
	})
	if err != nil {
		return nil, err
	}
	return &analytics, nil
}

func (s *analyticsService) GetTeacherOverview(ctx context.Context, teacherID string) (*TeacherOverview, error) {
	var overview TeacherOverview
	err := s.cacheManager.Stats.CacheOrExecute(ctx, cache.TeacherStatsKey(teacherID), &overview, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		quizzes, _, err := s.repo.Quiz().ListByTeacher(ctx, nil, teacherID, repositories.QuizFilters{
			Limit:     overviewQuizLimit,
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
		attempts, err := s.repo.Attempt().ListByQuizzes(ctx, nil, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to list attempts: %w", err)
		}

		return computeTeacherOverview(teacherID, quizzes, attempts), nil
	})
	if err != nil {
		return nil, err
	}
	return &overview, nil
}

// GetSubmissions lists every attempt of a quiz, marking ungraded answers as not evaluated
func (s *analyticsService) GetSubmissions(ctx context.Context, quizID, userID string, role models.UserRole) (*SubmissionsResponse, error) {
	quiz, err := s.managedQuiz(ctx, quizID, userID, role, "view submissions")
	if err != nil {
		return nil, err
	}

	attempts, err := s.repo.Attempt().ListByQuiz(ctx, nil, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	names := s.studentNames(ctx, attempts)

	resp := &SubmissionsResponse{
		QuizID:      quiz.ID,
		Title:       quiz.Title,
		Submissions: make([]*Submission, 0, len(attempts)),
	}
	for _, attempt := range attempts {
		resp.Submissions = append(resp.Submissions, buildSubmission(quiz, attempt, names))
	}
	return resp, nil
}

// ===== HELPERS =====

func (s *analyticsService) managedQuiz(ctx context.Context, quizID, userID string, role models.UserRole, action string) (*models.Quiz, error) {
	quiz, err := s.repo.Quiz().GetByID(ctx, nil, quizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, newNotFound("quiz", quizID)
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	if !canManageQuiz(quiz, userID, role) {
		return nil, NewPermissionError(userID, quizID, "quiz", action, "not the owner of this quiz")
	}
	return quiz, nil
}

// studentNames resolves display names; lookup failures fall back to ids
func (s *analyticsService) studentNames(ctx context.Context, attempts []*models.QuizAttempt) map[string]string {
	seen := make(map[string]bool)
	var ids []string
	for _, attempt := range attempts {
		if !seen[attempt.StudentID] {
			seen[attempt.StudentID] = true
			ids = append(ids, attempt.StudentID)
		}
	}

	names := make(map[string]string, len(ids))
	if len(ids) == 0 || s.repo.User() == nil {
		return names
	}

	users, err := s.repo.User().GetByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("Failed to resolve student names", "count", len(ids), "error", err)
		return names
	}
	for _, user := range users {
		names[user.ID] = user.DisplayName()
	}
	return names
}

func nameOf(names map[string]string, id string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return id
}

func computeQuizAnalytics(quiz *models.Quiz, attempts []*models.QuizAttempt, names map[string]string, now time.Time) *QuizAnalytics {
	analytics := &QuizAnalytics{
		QuizID:            quiz.ID,
		Title:             quiz.Title,
		TotalSubmissions:  len(attempts),
		ScoreDistribution: make([]ScoreBucket, len(bucketLabels)),
		TopStudents:       []StudentScore{},
		ImprovementAreas:  []QuestionInsight{},
		GeneratedAt:       now,
	}
	for i, label := range bucketLabels {
		analytics.ScoreDistribution[i] = ScoreBucket{Range: label}
	}

	type questionTotals struct {
		sum   float64
		count int
	}
	perQuestion := make(map[string]*questionTotals)
	best := make(map[string]*StudentScore)

	var sum float64
	for _, attempt := range attempts {
		student, ok := best[attempt.StudentID]
		if !ok {
			student = &StudentScore{StudentID: attempt.StudentID, StudentName: nameOf(names, attempt.StudentID), BestScore: -1}
			best[attempt.StudentID] = student
		}
		student.Attempts++

		for i := range attempt.Answers {
			score, graded := answerScore(&attempt.Answers[i])
			if !graded {
				analytics.PendingAnswers++
				continue
			}
			totals, ok := perQuestion[attempt.Answers[i].QuestionID]
			if !ok {
				totals = &questionTotals{}
				perQuestion[attempt.Answers[i].QuestionID] = totals
			}
			totals.sum += score
			totals.count++
		}

		if attempt.TotalScore == nil {
			continue
		}
		score := *attempt.TotalScore
		if analytics.GradedSubmissions == 0 || score > analytics.HighestScore {
			analytics.HighestScore = score
		}
		if analytics.GradedSubmissions == 0 || score < analytics.LowestScore {
			analytics.LowestScore = score
		}
		analytics.GradedSubmissions++
		sum += score
		analytics.ScoreDistribution[bucketIndex(score)].Count++
		if score > student.BestScore {
			student.BestScore = score
		}
	}
	analytics.UniqueStudents = len(best)
	if analytics.GradedSubmissions > 0 {
		analytics.AverageScore = round2(sum / float64(analytics.GradedSubmissions))
	}

	for _, student := range best {
		if student.BestScore >= 0 {
			analytics.TopStudents = append(analytics.TopStudents, *student)
		}
	}
	sort.Slice(analytics.TopStudents, func(i, j int) bool {
		a, b := analytics.TopStudents[i], analytics.TopStudents[j]
		if a.BestScore != b.BestScore {
			return a.BestScore > b.BestScore
		}
		return a.StudentID < b.StudentID
	})
	if len(analytics.TopStudents) > topStudentsLimit {
		analytics.TopStudents = analytics.TopStudents[:topStudentsLimit]
	}

	for _, question := range quiz.Questions {
		totals, ok := perQuestion[question.ID]
		if !ok {
			continue
		}
		avg := round2(totals.sum / float64(totals.count))
		if avg < improvementThreshold {
			analytics.ImprovementAreas = append(analytics.ImprovementAreas, QuestionInsight{
				QuestionID:    question.ID,
				Prompt:        question.Prompt,
				Type:          question.Type,
				AverageScore:  avg,
				GradedAnswers: totals.count,
			})
		}
	}
	sort.SliceStable(analytics.ImprovementAreas, func(i, j int) bool {
		return analytics.ImprovementAreas[i].AverageScore < analytics.ImprovementAreas[j].AverageScore
	})

	return analytics
}

func computeTeacherOverview(teacherID string, quizzes []*models.Quiz, attempts []*models.QuizAttempt) *TeacherOverview {
	byQuiz := make(map[string][]*models.QuizAttempt)
	for _, attempt := range attempts {
		byQuiz[attempt.QuizID] = append(byQuiz[attempt.QuizID], attempt)
	}

	overview := &TeacherOverview{
		TeacherID:    teacherID,
		TotalQuizzes: len(quizzes),
		Quizzes:      make([]*QuizSummary, 0, len(quizzes)),
	}
	for _, quiz := range quizzes {
		summary := &QuizSummary{QuizID: quiz.ID, Title: quiz.Title, Kind: quiz.Kind}

		students := make(map[string]bool)
		var sum float64
		var graded int
		for _, attempt := range byQuiz[quiz.ID] {
			summary.Submissions++
			students[attempt.StudentID] = true
			for i := range attempt.Answers {
				if !attempt.Answers[i].IsGraded() {
					summary.PendingAnswers++
				}
			}
			if attempt.TotalScore != nil {
				sum += *attempt.TotalScore
				graded++
			}
		}
		summary.UniqueStudents = len(students)
		if graded > 0 {
			summary.AverageScore = round2(sum / float64(graded))
		}

		overview.TotalSubmissions += summary.Submissions
		overview.PendingAnswers += summary.PendingAnswers
		overview.Quizzes = append(overview.Quizzes, summary)
	}
	return overview
}

func buildSubmission(quiz *models.Quiz, attempt *models.QuizAttempt, names map[string]string) *Submission {
	submission := &Submission{
		AttemptID:     attempt.ID,
		StudentID:     attempt.StudentID,
		StudentName:   nameOf(names, attempt.StudentID),
		AttemptNumber: attempt.AttemptNumber,
		TotalScore:    attempt.TotalScore,
		GradingStatus: attempt.GradingStatus,
		SubmittedAt:   attempt.CreatedAt,
		Answers:       make([]SubmissionAnswer, 0, len(attempt.Answers)),
	}

	for i := range attempt.Answers {
		answer := &attempt.Answers[i]
		item := SubmissionAnswer{
			QuestionID: answer.QuestionID,
			AnswerText: answer.AnswerText,
			Feedback:   notEvaluatedFeedback,
		}
		if question, ok := quiz.QuestionByID(answer.QuestionID); ok {
			item.Prompt = question.Prompt
			item.Type = question.Type
		}
		if score, graded := answerScore(answer); graded {
			item.Score = &score
			item.Evaluated = true
			item.Feedback = ""
			if answer.Feedback != nil {
				item.Feedback = *answer.Feedback
			}
		}
		submission.Answers = append(submission.Answers, item)
	}
	return submission
}

func bucketIndex(score float64) int {
	idx := int(math.Floor(score / 10))
	if idx < 0 {
		return 0
	}
	if idx >= len(bucketLabels) {
		return len(bucketLabels) - 1
	}
	return idx
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
