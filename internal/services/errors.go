package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/validator"
)

var (
	ErrQuizNotFound     = &NotFoundError{Resource: "quiz"}
	ErrAttemptNotFound  = &NotFoundError{Resource: "attempt"}
	ErrQuestionNotFound = &NotFoundError{Resource: "question"}

	ErrMaxAttemptsReached  = errors.New("maximum attempts reached")
	ErrQuizHasAttempts     = errors.New("quiz already has attempts")
	ErrConcurrencyConflict = errors.New("attempt number conflict")
)

// NotFoundError reports a missing quiz, question, attempt or student
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is matches any NotFoundError for the same resource, so errors.Is(err, ErrQuizNotFound) holds for every quiz id
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	return ok && t.Resource == e.Resource && (t.ID == "" || t.ID == e.ID)
}

func newNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one request
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

type PermissionError struct {
	UserID     string
	ResourceID string
	Resource   string
	Action     string
	Reason     string
}

func NewPermissionError(userID, resourceID, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: cannot %s %s %s: %s", e.Action, e.Resource, e.ResourceID, e.Reason)
}

// ConcurrencyConflictError is returned once attempt number retries are exhausted
type ConcurrencyConflictError struct {
	StudentID string
	QuizID    string
	Attempts  int
	Err       error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("attempt number conflict for student %s on quiz %s after %d tries: %v",
		e.StudentID, e.QuizID, e.Attempts, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// IsValidationError reports service rule violations and request field errors alike
func IsValidationError(err error) bool {
	var single *ValidationError
	var multi ValidationErrors
	var fields validator.ValidationErrors
	return errors.As(err, &single) || errors.As(err, &multi) || errors.As(err, &fields)
}
