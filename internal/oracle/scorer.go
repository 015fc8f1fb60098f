// Package oracle talks to the external service that scores free-text answers.
package oracle

import (
	"context"
	"errors"
	"fmt"
)

// Request is what the oracle needs to score one short answer
type Request struct {
	Question string
	Rubric   string
	Answer   string
}

// Result is an oracle verdict on the 0..100 scale
type Result struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Scorer scores a short answer. Implementations return *TimeoutError or
// *FailureError so callers can tell an unavailable oracle from a zero score.
type Scorer interface {
	Score(ctx context.Context, req Request) (*Result, error)
}

// ScorerFunc adapts a function to Scorer
type ScorerFunc func(ctx context.Context, req Request) (*Result, error)

func (f ScorerFunc) Score(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// TimeoutError is returned when the oracle did not answer in time
type TimeoutError struct {
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("scoring oracle timed out after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("scoring oracle timed out: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// FailureError is returned when the oracle answered with an error or garbage
type FailureError struct {
	StatusCode int
	Retryable  bool
	Attempts   int
	Err        error
}

func (e *FailureError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("scoring oracle failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("scoring oracle failed: %v", e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// IsOracleError reports whether err came from the oracle rather than from the caller
func IsOracleError(err error) bool {
	var timeoutErr *TimeoutError
	var failureErr *FailureError
	return errors.As(err, &timeoutErr) || errors.As(err, &failureErr)
}

// IsRetryable reports whether another attempt could succeed
func IsRetryable(err error) bool {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var failureErr *FailureError
	if errors.As(err, &failureErr) {
		return failureErr.Retryable
	}
	return false
}

// ValidateScore rejects verdicts outside 0..100
func ValidateScore(score float64) error {
	if score < 0 || score > 100 || score != score {
		return &FailureError{Err: fmt.Errorf("score %v out of range [0,100]", score)}
	}
	return nil
}
