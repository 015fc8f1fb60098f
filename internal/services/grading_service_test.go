package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/cache"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/events"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/oracle"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/validator"
)

// seedPartialAttempt stores an attempt whose short answer timed out
func seedPartialAttempt(t *testing.T, store *memStore, mcqAnswer string) *AttemptResponse {
	t.Helper()
	store.addQuiz(testQuiz("quiz-1", teacherID, 0, mcq("q1", "A", 1), shortAnswer("q2", 2)))

	timeout := &oracle.TimeoutError{Attempts: 3, Err: context.DeadlineExceeded}
	svc := newTestAttemptService(store, failingScorer(timeout), nil, 3)
	resp, err := svc.Submit(context.Background(), studentID, "quiz-1", &models.AttemptSubmitRequest{
		Answers: []models.AnswerSubmission{
			{QuestionID: "q1", AnswerText: mcqAnswer},
			{QuestionID: "q2", AnswerText: "chlorophyll absorbs light"},
		},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if resp.GradingStatus != models.GradingPartial {
		t.Fatalf("seeded status = %s, want %s", resp.GradingStatus, models.GradingPartial)
	}
	return resp
}

func newTestGradingService(store *memStore, scorer oracle.Scorer, publisher events.EventPublisher) GradingService {
	logger := testLogger()
	return NewGradingService(newMemRepository(store), logger, validator.New(), NewGrader(scorer, logger, 2), publisher, cache.NewCacheManager(nil))
}

func TestGradingService_RegradePending(t *testing.T) {
	store := newMemStore()
	seeded := seedPartialAttempt(t, store, "A")
	publisher := events.NewMockEventPublisher(testLogger())
	svc := newTestGradingService(store, fixedScorer(80, "Good"), publisher)

	resp, err := svc.RegradePending(context.Background(), seeded.ID, teacherID, models.RoleTeacher)
	if err != nil {
		t.Fatalf("RegradePending() error = %v", err)
	}
	if resp.GradingStatus != models.GradingComplete {
		t.Errorf("status = %s, want %s", resp.GradingStatus, models.GradingComplete)
	}
	if resp.TotalScore == nil || *resp.TotalScore != 90 {
		t.Errorf("total = %v, want 90", resp.TotalScore)
	}
	if len(resp.UngradedQuestions) != 0 {
		t.Errorf("UngradedQuestions = %v, want none", resp.UngradedQuestions)
	}

	stored, err := newMemRepository(store).Attempt().GetByID(context.Background(), nil, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	answer, _ := stored.AnswerFor("q2")
	if !answer.IsGraded() || answer.AIScore == nil || *answer.AIScore != 80 {
		t.Errorf("stored answer = status %s score %v, want graded 80", answer.Status, answer.AIScore)
	}
	if answer.GradedBy == nil || *answer.GradedBy != models.GradedByOracle {
		t.Errorf("GradedBy = %v, want %s", answer.GradedBy, models.GradedByOracle)
	}
	if stored.AttemptNumber != seeded.AttemptNumber {
		t.Errorf("attempt number changed from %d to %d", seeded.AttemptNumber, stored.AttemptNumber)
	}

	published := publisher.GetPublishedEvents()
	if len(published) != 1 || published[0].Type != events.AttemptGraded {
		t.Errorf("published events = %v, want one attempt.graded", eventTypes(published))
	}
}

func TestGradingService_RegradePendingOracleStillDown(t *testing.T) {
	store := newMemStore()
	seeded := seedPartialAttempt(t, store, "A")
	svc := newTestGradingService(store, failingScorer(&oracle.FailureError{StatusCode: 503, Retryable: true, Err: errOracleDown}), nil)

	_, err := svc.RegradePending(context.Background(), seeded.ID, teacherID, models.RoleTeacher)
	if !oracle.IsOracleError(err) {
		t.Fatalf("RegradePending() error = %v, want oracle error", err)
	}

	stored, _ := newMemRepository(store).Attempt().GetByID(context.Background(), nil, seeded.ID)
	if stored.GradingStatus != models.GradingPartial {
		t.Errorf("stored status = %s, want %s", stored.GradingStatus, models.GradingPartial)
	}
}

func TestGradingService_RegradeNothingPending(t *testing.T) {
	store := newMemStore()
	store.addQuiz(mcqQuiz("quiz-1", 0, 1))
	submitted, err := newTestAttemptService(store, fixedScorer(50, ""), nil, 3).
		Submit(context.Background(), studentID, "quiz-1", mcqSubmission("A"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	var calls atomic.Int32
	scorer := oracle.ScorerFunc(func(ctx context.Context, req oracle.Request) (*oracle.Result, error) {
		calls.Add(1)
		return &oracle.Result{Score: 10}, nil
	})
	resp, err := newTestGradingService(store, scorer, nil).RegradePending(context.Background(), submitted.ID, teacherID, models.RoleTeacher)
	if err != nil {
		t.Fatalf("RegradePending() error = %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("oracle called %d times, want 0", calls.Load())
	}
	if *resp.TotalScore != 100 {
		t.Errorf("total = %v, want 100", *resp.TotalScore)
	}
}

func TestGradingService_Permissions(t *testing.T) {
	store := newMemStore()
	seeded := seedPartialAttempt(t, store, "A")
	svc := newTestGradingService(store, fixedScorer(80, ""), nil)

	callers := []struct {
		name   string
		userID string
		role   models.UserRole
	}{
		{name: "student owner", userID: studentID, role: models.RoleStudent},
		{name: "other teacher", userID: "teacher-2", role: models.RoleTeacher},
	}
	for _, caller := range callers {
		t.Run(caller.name, func(t *testing.T) {
			var permErr *PermissionError
			if _, err := svc.RegradePending(context.Background(), seeded.ID, caller.userID, caller.role); !errors.As(err, &permErr) {
				t.Errorf("RegradePending() error = %v, want PermissionError", err)
			}
			req := &models.ManualGradeRequest{Score: 90}
			if _, err := svc.GradeAnswer(context.Background(), seeded.ID, "q2", req, caller.userID, caller.role); !errors.As(err, &permErr) {
				t.Errorf("GradeAnswer() error = %v, want PermissionError", err)
			}
		})
	}
}

func TestGradingService_GradeAnswer(t *testing.T) {
	tests := []struct {
		name        string
		mcqAnswer   string
		questionID  string
		score       float64
		wantTotal   float64
		wantStatus  models.GradingStatus
		wantCorrect *bool
	}{
		{
			name:       "fills the ungraded short answer",
			mcqAnswer:  "A",
			questionID: "q2",
			score:      55,
			wantTotal:  78,
			wantStatus: models.GradingComplete,
		},
		{
			name:        "overrides an mcq grade",
			mcqAnswer:   "B",
			questionID:  "q1",
			score:       100,
			wantTotal:   100,
			wantStatus:  models.GradingPartial,
			wantCorrect: ptrBool(true),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			seeded := seedPartialAttempt(t, store, tt.mcqAnswer)
			svc := newTestGradingService(store, failingScorer(errOracleDown), nil)

			req := &models.ManualGradeRequest{Score: tt.score, Feedback: strp("Reviewed")}
			resp, err := svc.GradeAnswer(context.Background(), seeded.ID, tt.questionID, req, teacherID, models.RoleTeacher)
			if err != nil {
				t.Fatalf("GradeAnswer() error = %v", err)
			}
			if resp.TotalScore == nil || *resp.TotalScore != tt.wantTotal {
				t.Errorf("total = %v, want %v", resp.TotalScore, tt.wantTotal)
			}
			if resp.GradingStatus != tt.wantStatus {
				t.Errorf("status = %s, want %s", resp.GradingStatus, tt.wantStatus)
			}

			answer, _ := resp.AnswerFor(tt.questionID)
			if answer.GradedBy == nil || *answer.GradedBy != teacherID {
				t.Errorf("GradedBy = %v, want %s", answer.GradedBy, teacherID)
			}
			if answer.Feedback == nil || *answer.Feedback != "Reviewed" {
				t.Errorf("Feedback = %v, want Reviewed", answer.Feedback)
			}
			if tt.wantCorrect != nil && (answer.IsCorrect == nil || *answer.IsCorrect != *tt.wantCorrect) {
				t.Errorf("IsCorrect = %v, want %v", answer.IsCorrect, *tt.wantCorrect)
			}
		})
	}
}

func TestGradingService_GradeAnswerRejects(t *testing.T) {
	store := newMemStore()
	seeded := seedPartialAttempt(t, store, "A")
	svc := newTestGradingService(store, fixedScorer(80, ""), nil)
	ctx := context.Background()

	if _, err := svc.GradeAnswer(ctx, seeded.ID, "q2", &models.ManualGradeRequest{Score: 120}, teacherID, models.RoleTeacher); !IsValidationError(err) {
		t.Errorf("score 120: error = %v, want validation error", err)
	}
	if _, err := svc.GradeAnswer(ctx, seeded.ID, "q2", &models.ManualGradeRequest{Score: -1}, teacherID, models.RoleTeacher); !IsValidationError(err) {
		t.Errorf("score -1: error = %v, want validation error", err)
	}
	if _, err := svc.GradeAnswer(ctx, seeded.ID, "q9", &models.ManualGradeRequest{Score: 50}, teacherID, models.RoleTeacher); !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("unknown question: error = %v, want ErrQuestionNotFound", err)
	}
	if _, err := svc.GradeAnswer(ctx, "missing", "q2", &models.ManualGradeRequest{Score: 50}, teacherID, models.RoleTeacher); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("unknown attempt: error = %v, want ErrAttemptNotFound", err)
	}
}

func TestGradingService_RegradeKeepsConcurrentManualGrade(t *testing.T) {
	store := newMemStore()
	seeded := seedPartialAttempt(t, store, "A")
	ctx := context.Background()

	// A teacher grades q2 by hand while the oracle is still scoring it
	var (
		svc       GradingService
		once      sync.Once
		manualErr error
	)
	scorer := oracle.ScorerFunc(func(ctx context.Context, req oracle.Request) (*oracle.Result, error) {
		once.Do(func() {
			_, manualErr = svc.GradeAnswer(ctx, seeded.ID, "q2", &models.ManualGradeRequest{Score: 40}, teacherID, models.RoleTeacher)
		})
		return &oracle.Result{Score: 90, Feedback: "Thorough"}, nil
	})
	svc = newTestGradingService(store, scorer, nil)

	resp, err := svc.RegradePending(ctx, seeded.ID, teacherID, models.RoleTeacher)
	if err != nil {
		t.Fatalf("RegradePending() error = %v", err)
	}
	if manualErr != nil {
		t.Fatalf("GradeAnswer() error = %v", manualErr)
	}
	if resp.TotalScore == nil || *resp.TotalScore != 70 {
		t.Errorf("total = %v, want 70", resp.TotalScore)
	}

	stored, err := newMemRepository(store).Attempt().GetByID(ctx, nil, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(stored.Answers) != 2 {
		t.Fatalf("stored answers = %d, want 2", len(stored.Answers))
	}
	answer, _ := stored.AnswerFor("q2")
	if answer.AIScore == nil || *answer.AIScore != 40 {
		t.Errorf("q2 score = %v, want the manual 40", answer.AIScore)
	}
	if answer.GradedBy == nil || *answer.GradedBy != teacherID {
		t.Errorf("GradedBy = %v, want %s", answer.GradedBy, teacherID)
	}
	if stored.TotalScore == nil || *stored.TotalScore != 70 || stored.GradedCount != 2 {
		t.Errorf("stored totals = %v graded %d, want 70 and 2", stored.TotalScore, stored.GradedCount)
	}
	if store.answerUpdates != 1 {
		t.Errorf("answer writes = %d, want 1", store.answerUpdates)
	}
}

func TestGradingService_RegradeTwiceWritesOnce(t *testing.T) {
	store := newMemStore()
	seeded := seedPartialAttempt(t, store, "A")
	svc := newTestGradingService(store, fixedScorer(80, ""), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.RegradePending(ctx, seeded.ID, teacherID, models.RoleTeacher); err != nil {
			t.Fatalf("RegradePending() #%d error = %v", i+1, err)
		}
	}
	if _, err := svc.GradeAnswer(ctx, seeded.ID, "q2", &models.ManualGradeRequest{Score: 60}, teacherID, models.RoleTeacher); err != nil {
		t.Fatalf("GradeAnswer() error = %v", err)
	}

	stored, _ := newMemRepository(store).Attempt().GetByID(ctx, nil, seeded.ID)
	if len(stored.Answers) != 2 {
		t.Errorf("stored answers = %d, want 2", len(stored.Answers))
	}
	if store.answerUpdates != 2 {
		t.Errorf("answer writes = %d, want 2", store.answerUpdates)
	}
	if stored.TotalScore == nil || *stored.TotalScore != 80 {
		t.Errorf("total = %v, want 80", stored.TotalScore)
	}
}

// txWatchRepo runs afterWrite inside the transaction, once the writes are done
type txWatchRepo struct {
	*memRepository
	afterWrite func()
}

func (r *txWatchRepo) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return r.memRepository.WithTransaction(ctx, func(tx repositories.Repository) error {
		if err := fn(tx); err != nil {
			return err
		}
		r.afterWrite()
		return nil
	})
}

func TestGradingService_InvalidatesAttemptAfterCommit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cacheManager := cache.NewCacheManager(client)

	store := newMemStore()
	seeded := seedPartialAttempt(t, store, "A")
	ctx := context.Background()

	key := cache.AttemptKey(seeded.ID)
	var cached models.QuizAttempt
	if err := cacheManager.Attempt.CacheOrExecute(ctx, key, &cached, time.Minute, func() (interface{}, error) {
		return newMemRepository(store).Attempt().GetByID(ctx, nil, seeded.ID)
	}); err != nil {
		t.Fatalf("CacheOrExecute() error = %v", err)
	}
	redisKey := cacheManager.Attempt.GetCacheKey(key)
	if !mr.Exists(redisKey) {
		t.Fatal("attempt was not cached")
	}

	var keptDuringTx bool
	repo := &txWatchRepo{
		memRepository: newMemRepository(store),
		afterWrite:    func() { keptDuringTx = mr.Exists(redisKey) },
	}
	logger := testLogger()
	svc := NewGradingService(repo, logger, validator.New(), NewGrader(fixedScorer(80, ""), logger, 1), nil, cacheManager)

	if _, err := svc.GradeAnswer(ctx, seeded.ID, "q2", &models.ManualGradeRequest{Score: 50}, teacherID, models.RoleTeacher); err != nil {
		t.Fatalf("GradeAnswer() error = %v", err)
	}
	if !keptDuringTx {
		t.Error("cached attempt dropped before the transaction finished")
	}
	if mr.Exists(redisKey) {
		t.Error("cached attempt still present after commit")
	}
}
