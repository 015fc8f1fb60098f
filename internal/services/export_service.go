package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/cache"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories"
)

const (
	gradebookSheet   = "Gradebook"
	summarySheet     = "Summary"
	xlsxContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	gradebookTimeFmt = "2006-01-02 15:04:05"
)

type exportService struct {
	analytics *analyticsService
	logger    *slog.Logger
}

func NewExportService(repo repositories.Repository, cacheManager *cache.CacheManager, logger *slog.Logger) ExportService {
	return &exportService{
		analytics: &analyticsService{
			repo:         repo,
			cacheManager: cacheManager,
			logger:       logger,
			now:          func() time.Time { return time.Now().UTC() },
		},
		logger: logger,
	}
}

// ExportGradebook renders every attempt of a quiz into an xlsx workbook with one
// row per attempt and a per-quiz summary sheet
func (s *exportService) ExportGradebook(ctx context.Context, quizID, userID string, role models.UserRole) (*GradebookFile, error) {
	quiz, err := s.analytics.managedQuiz(ctx, quizID, userID, role, "export gradebook")
	if err != nil {
		return nil, err
	}

	attempts, err := s.analytics.repo.Attempt().ListByQuiz(ctx, nil, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	names := s.analytics.studentNames(ctx, attempts)
	now := s.analytics.now()

	content, err := renderGradebook(quiz, attempts, names, now)
	if err != nil {
		return nil, fmt.Errorf("failed to render gradebook: %w", err)
	}

	s.logger.Info("Gradebook exported",
		"quiz_id", quizID,
		"attempts", len(attempts),
		"user_id", userID,
		"bytes", len(content))

	return &GradebookFile{
		Filename:    fmt.Sprintf("gradebook-%s.xlsx", quiz.ID),
		ContentType: xlsxContentType,
		Content:     content,
	}, nil
}

func renderGradebook(quiz *models.Quiz, attempts []*models.QuizAttempt, names map[string]string, now time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", gradebookSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	header := []interface{}{"Student ID", "Student Name", "Attempt", "Submitted At", "Status", "Total Score", "Letter Grade"}
	for i := range quiz.Questions {
		header = append(header, fmt.Sprintf("Q%d", i+1))
	}
	if err := f.SetSheetRow(gradebookSheet, "A1", &header); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	lastHeader, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(gradebookSheet, "A1", lastHeader, bold); err != nil {
		return nil, err
	}

	for i, attempt := range attempts {
		row := []interface{}{
			attempt.StudentID,
			nameOf(names, attempt.StudentID),
			attempt.AttemptNumber,
			attempt.CreatedAt.UTC().Format(gradebookTimeFmt),
			string(attempt.GradingStatus),
		}
		if attempt.TotalScore != nil {
			row = append(row, *attempt.TotalScore, calculateLetterGrade(*attempt.TotalScore))
		} else {
			row = append(row, notEvaluatedFeedback, "")
		}

		for _, question := range quiz.Questions {
			answer, ok := attempt.AnswerFor(question.ID)
			if !ok {
				row = append(row, "")
				continue
			}
			if score, graded := answerScore(answer); graded {
				row = append(row, score)
			} else {
				row = append(row, notEvaluatedFeedback)
			}
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(gradebookSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	analytics := computeQuizAnalytics(quiz, attempts, names, now)
	summary := [][]interface{}{
		{"Quiz ID", quiz.ID},
		{"Title", quiz.Title},
		{"Submissions", analytics.TotalSubmissions},
		{"Graded Submissions", analytics.GradedSubmissions},
		{"Unique Students", analytics.UniqueStudents},
		{"Average Score", analytics.AverageScore},
		{"Highest Score", analytics.HighestScore},
		{"Lowest Score", analytics.LowestScore},
		{"Pending Answers", analytics.PendingAnswers},
		{"Generated At", now.Format(gradebookTimeFmt)},
	}
	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(summary)), bold); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
