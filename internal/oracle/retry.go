package oracle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/eapache/go-resiliency/retrier"
)

// RetryConfig bounds every oracle call
type RetryConfig struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

type retryClassifier struct{}

func (retryClassifier) Classify(err error) retrier.Action {
	if err == nil {
		return retrier.Succeed
	}
	if IsRetryable(err) {
		return retrier.Retry
	}
	return retrier.Fail
}

// RetryingScorer applies a per-call timeout and bounded exponential backoff to another Scorer
type RetryingScorer struct {
	next    Scorer
	timeout time.Duration
	retrier *retrier.Retrier
	logger  *slog.Logger
}

func NewRetryingScorer(next Scorer, cfg RetryConfig, logger *slog.Logger) *RetryingScorer {
	if logger == nil {
		logger = slog.Default()
	}
	r := retrier.New(retrier.ExponentialBackoff(cfg.MaxRetries, cfg.RetryBackoff), retryClassifier{})
	r.SetJitter(0.2)

	return &RetryingScorer{
		next:    next,
		timeout: cfg.Timeout,
		retrier: r,
		logger:  logger,
	}
}

func (s *RetryingScorer) Score(ctx context.Context, req Request) (*Result, error) {
	var (
		result   *Result
		lastErr  error
		attempts int
	)

	err := s.retrier.RunCtx(ctx, func(ctx context.Context) error {
		attempts++

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		res, err := s.next.Score(callCtx, req)
		if err != nil {
			if !IsOracleError(err) {
				if errors.Is(err, context.DeadlineExceeded) {
					err = &TimeoutError{Attempts: attempts, Err: err}
				} else {
					err = &FailureError{Retryable: true, Err: err}
				}
			}
			lastErr = err
			s.logger.Warn("Scoring oracle call failed",
				"attempt", attempts,
				"retryable", IsRetryable(err),
				"error", err)
			return err
		}

		result = res
		return nil
	})
	if err == nil {
		return result, nil
	}

	// the retrier returns the bare context error when cancelled mid backoff
	if lastErr != nil && !IsOracleError(err) {
		err = lastErr
	}
	return nil, withAttempts(err, attempts)
}

func withAttempts(err error, attempts int) error {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return &TimeoutError{Attempts: attempts, Err: timeoutErr.Err}
	}
	var failureErr *FailureError
	if errors.As(err, &failureErr) {
		copied := *failureErr
		copied.Attempts = attempts
		return &copied
	}
	return err
}
