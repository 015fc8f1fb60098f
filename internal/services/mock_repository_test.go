package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
	"github.com/SAP-F-2025/quiz-scoring-service/internal/repositories"
)

// memStore is an in-memory stand-in for postgres. Transactions are serialized
// and rolled back from a snapshot, which is what row locks on the counter give
// the real repository.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	quizzes  map[string]*models.Quiz
	attempts []*models.QuizAttempt
	counters map[string]int
	users    map[string]*models.User
	nextID   uint

	// failCreates makes the next n attempt inserts fail with a unique violation
	failCreates   int
	createCalls   int
	answerUpdates int
}

func newMemStore() *memStore {
	return &memStore{
		quizzes:  make(map[string]*models.Quiz),
		counters: make(map[string]int),
		users:    make(map[string]*models.User),
	}
}

func (s *memStore) addQuiz(quiz *models.Quiz) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[quiz.ID] = cloneQuiz(quiz)
}

func (s *memStore) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func (s *memStore) counter(studentID, quizID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[studentID+"|"+quizID]
}

type memSnapshot struct {
	quizzes  map[string]*models.Quiz
	attempts []*models.QuizAttempt
	counters map[string]int
	nextID   uint
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		quizzes:  make(map[string]*models.Quiz, len(s.quizzes)),
		attempts: make([]*models.QuizAttempt, len(s.attempts)),
		counters: make(map[string]int, len(s.counters)),
		nextID:   s.nextID,
	}
	for id, quiz := range s.quizzes {
		snap.quizzes[id] = cloneQuiz(quiz)
	}
	for i, attempt := range s.attempts {
		snap.attempts[i] = cloneAttempt(attempt)
	}
	for k, v := range s.counters {
		snap.counters[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes = snap.quizzes
	s.attempts = snap.attempts
	s.counters = snap.counters
	s.nextID = snap.nextID
}

func cloneQuiz(quiz *models.Quiz) *models.Quiz {
	c := *quiz
	c.Questions = append([]models.Question(nil), quiz.Questions...)
	return &c
}

func cloneAttempt(attempt *models.QuizAttempt) *models.QuizAttempt {
	c := *attempt
	c.Answers = append([]models.AttemptAnswer(nil), attempt.Answers...)
	return &c
}

// ===== REPOSITORY =====

type memRepository struct {
	store *memStore
	inTx  bool
}

func newMemRepository(store *memStore) *memRepository {
	return &memRepository{store: store}
}

func (r *memRepository) Quiz() repositories.QuizRepository       { return &memQuizRepo{store: r.store} }
func (r *memRepository) Attempt() repositories.AttemptRepository { return &memAttemptRepo{store: r.store} }
func (r *memRepository) User() repositories.UserRepository       { return &memUserRepo{store: r.store} }

func (r *memRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	r.store.txMu.Lock()
	defer r.store.txMu.Unlock()

	snap := r.store.snapshot()
	if err := fn(&memRepository{store: r.store, inTx: true}); err != nil {
		r.store.restore(snap)
		return err
	}
	return nil
}

func (r *memRepository) Ping(ctx context.Context) error { return nil }
func (r *memRepository) Close() error                   { return nil }

// ===== QUIZZES =====

type memQuizRepo struct{ store *memStore }

func (q *memQuizRepo) Create(ctx context.Context, tx *gorm.DB, quiz *models.Quiz) error {
	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == "" {
			quiz.Questions[i].ID = uuid.NewString()
		}
		quiz.Questions[i].QuizID = quiz.ID
	}
	q.store.addQuiz(quiz)
	return nil
}

func (q *memQuizRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Quiz, error) {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	quiz, ok := q.store.quizzes[id]
	if !ok {
		return nil, fmt.Errorf("failed to get quiz %s: %w", id, gorm.ErrRecordNotFound)
	}
	return cloneQuiz(quiz), nil
}

func (q *memQuizRepo) Update(ctx context.Context, tx *gorm.DB, quiz *models.Quiz) error {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	existing, ok := q.store.quizzes[quiz.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	updated := cloneQuiz(quiz)
	if len(quiz.Questions) == 0 {
		updated.Questions = existing.Questions
	}
	for i := range updated.Questions {
		if updated.Questions[i].ID == "" {
			updated.Questions[i].ID = uuid.NewString()
		}
	}
	q.store.quizzes[quiz.ID] = updated
	return nil
}

func (q *memQuizRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.QuizFilters) ([]*models.Quiz, int64, error) {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	var out []*models.Quiz
	for _, quiz := range q.store.quizzes {
		if filters.Kind != nil && quiz.Kind != *filters.Kind {
			continue
		}
		if filters.CourseID != nil && quiz.CourseID != *filters.CourseID {
			continue
		}
		if filters.CreatedBy != nil && quiz.CreatedBy != *filters.CreatedBy {
			continue
		}
		out = append(out, cloneQuiz(quiz))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (q *memQuizRepo) ListByTeacher(ctx context.Context, tx *gorm.DB, teacherID string, filters repositories.QuizFilters) ([]*models.Quiz, int64, error) {
	filters.CreatedBy = &teacherID
	return q.List(ctx, tx, filters)
}

func (q *memQuizRepo) ListByCourse(ctx context.Context, tx *gorm.DB, courseID string, filters repositories.QuizFilters) ([]*models.Quiz, int64, error) {
	filters.CourseID = &courseID
	return q.List(ctx, tx, filters)
}

func (q *memQuizRepo) HasAttempts(ctx context.Context, tx *gorm.DB, quizID string) (bool, error) {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	for _, attempt := range q.store.attempts {
		if attempt.QuizID == quizID {
			return true, nil
		}
	}
	return false, nil
}

// ===== ATTEMPTS =====

type memAttemptRepo struct{ store *memStore }

func (a *memAttemptRepo) NextAttemptNumber(ctx context.Context, tx *gorm.DB, studentID, quizID string) (int, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	highest := 0
	for _, attempt := range a.store.attempts {
		if attempt.StudentID == studentID && attempt.QuizID == quizID && attempt.AttemptNumber > highest {
			highest = attempt.AttemptNumber
		}
	}
	key := studentID + "|" + quizID
	next := max(a.store.counters[key]+1, highest+1)
	a.store.counters[key] = next
	return next, nil
}

func (a *memAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	a.store.createCalls++
	if a.store.failCreates > 0 {
		a.store.failCreates--
		return fmt.Errorf("failed to create attempt: %w", gorm.ErrDuplicatedKey)
	}
	for _, existing := range a.store.attempts {
		if existing.StudentID == attempt.StudentID && existing.QuizID == attempt.QuizID && existing.AttemptNumber == attempt.AttemptNumber {
			return fmt.Errorf("failed to create attempt: %w", gorm.ErrDuplicatedKey)
		}
	}

	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	for i := range attempt.Answers {
		a.store.nextID++
		attempt.Answers[i].ID = a.store.nextID
		attempt.Answers[i].AttemptID = attempt.ID
	}
	a.store.attempts = append(a.store.attempts, cloneAttempt(attempt))
	return nil
}

func (a *memAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.QuizAttempt, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	for _, attempt := range a.store.attempts {
		if attempt.ID == id {
			return cloneAttempt(attempt), nil
		}
	}
	return nil, fmt.Errorf("failed to get attempt %s: %w", id, gorm.ErrRecordNotFound)
}

func (a *memAttemptRepo) GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.QuizAttempt, error) {
	return a.GetByID(ctx, tx, id)
}

func (a *memAttemptRepo) Update(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	for _, existing := range a.store.attempts {
		if existing.ID == attempt.ID {
			existing.TotalScore = attempt.TotalScore
			existing.GradingStatus = attempt.GradingStatus
			existing.GradedCount = attempt.GradedCount
			existing.QuestionCount = attempt.QuestionCount
			existing.UpdatedAt = attempt.UpdatedAt
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (a *memAttemptRepo) UpdateAnswer(ctx context.Context, tx *gorm.DB, answer *models.AttemptAnswer) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.store.answerUpdates++
	for _, attempt := range a.store.attempts {
		if attempt.ID != answer.AttemptID {
			continue
		}
		for i := range attempt.Answers {
			if attempt.Answers[i].QuestionID == answer.QuestionID {
				id := attempt.Answers[i].ID
				attempt.Answers[i] = *answer
				attempt.Answers[i].ID = id
				return nil
			}
		}
	}
	return gorm.ErrRecordNotFound
}

func (a *memAttemptRepo) ListByStudentQuiz(ctx context.Context, tx *gorm.DB, studentID, quizID string) ([]*models.QuizAttempt, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	var out []*models.QuizAttempt
	for _, attempt := range a.store.attempts {
		if attempt.StudentID == studentID && attempt.QuizID == quizID {
			out = append(out, cloneAttempt(attempt))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AttemptNumber != out[j].AttemptNumber {
			return out[i].AttemptNumber < out[j].AttemptNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (a *memAttemptRepo) ListByQuiz(ctx context.Context, tx *gorm.DB, quizID string) ([]*models.QuizAttempt, error) {
	return a.ListByQuizzes(ctx, tx, []string{quizID})
}

func (a *memAttemptRepo) ListByQuizzes(ctx context.Context, tx *gorm.DB, quizIDs []string) ([]*models.QuizAttempt, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	wanted := make(map[string]bool, len(quizIDs))
	for _, id := range quizIDs {
		wanted[id] = true
	}
	var out []*models.QuizAttempt
	for _, attempt := range a.store.attempts {
		if wanted[attempt.QuizID] {
			out = append(out, cloneAttempt(attempt))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	return out, nil
}

func (a *memAttemptRepo) CountByStudentQuiz(ctx context.Context, tx *gorm.DB, studentID, quizID string) (int, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	count := 0
	for _, attempt := range a.store.attempts {
		if attempt.StudentID == studentID && attempt.QuizID == quizID {
			count++
		}
	}
	return count, nil
}

func (a *memAttemptRepo) CountsByStudent(ctx context.Context, tx *gorm.DB, studentID string, quizIDs []string) (map[string]int, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	counts := make(map[string]int)
	for _, attempt := range a.store.attempts {
		if attempt.StudentID == studentID {
			counts[attempt.QuizID]++
		}
	}
	return counts, nil
}

// ===== USERS =====

type memUserRepo struct{ store *memStore }

func (u *memUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	user, ok := u.store.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (u *memUserRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	var users []*models.User
	for _, id := range ids {
		user, err := u.GetByID(ctx, id)
		if err != nil {
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// ===== FIXTURES =====

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strp(s string) *string { return &s }

func mcq(id, correct string, position int) models.Question {
	return models.Question{
		ID:            id,
		Position:      position,
		Type:          models.MultipleChoice,
		Prompt:        "Pick " + id,
		Options:       []string{"A", "B", "C", "D"},
		CorrectAnswer: strp(correct),
		Weight:        1,
	}
}

func shortAnswer(id string, position int) models.Question {
	return models.Question{
		ID:       id,
		Position: position,
		Type:     models.ShortAnswer,
		Prompt:   "Explain " + id,
		Rubric:   strp("reference answer for " + id),
		Weight:   1,
	}
}

func testQuiz(id, teacherID string, attemptsAllowed int, questions ...models.Question) *models.Quiz {
	for i := range questions {
		questions[i].QuizID = id
	}
	return &models.Quiz{
		ID:              id,
		Title:           "Quiz " + id,
		CourseID:        "course-1",
		CreatedBy:       teacherID,
		Kind:            models.KindQuiz,
		AttemptsAllowed: attemptsAllowed,
		Questions:       questions,
	}
}

var errOracleDown = errors.New("connection refused")
