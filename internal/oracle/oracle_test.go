package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func geminiReply(text string) string {
	body, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	})
	return string(body)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantScore float64
		wantFeed  string
		wantErr   bool
	}{
		{name: "percent scale", text: "Score: 85/100\nFeedback: Good coverage.", wantScore: 85, wantFeed: "Good coverage."},
		{name: "legacy ten scale", text: "Score: 7/10\nFeedback: Mention osmosis.", wantScore: 70, wantFeed: "Mention osmosis."},
		{name: "zero is a real score", text: "score: 0 / 100 feedback: Off topic", wantScore: 0, wantFeed: "Off topic"},
		{name: "full marks", text: "Score: 100/100\nFeedback: Perfect.", wantScore: 100, wantFeed: "Perfect."},
		{name: "out of range", text: "Score: 120/100\nFeedback: ?", wantErr: true},
		{name: "no score", text: "I think it is fine", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVerdict() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var failure *FailureError
				if !errors.As(err, &failure) || failure.Retryable {
					t.Errorf("expected non-retryable FailureError, got %v", err)
				}
				return
			}
			if got.Score != tt.wantScore || got.Feedback != tt.wantFeed {
				t.Errorf("ParseVerdict() = %+v, want score %v feedback %q", got, tt.wantScore, tt.wantFeed)
			}
		})
	}
}

func TestGeminiScorer_Score(t *testing.T) {
	var gotPath, gotKey, gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")

		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Contents) == 1 && len(req.Contents[0].Parts) == 1 {
			gotPrompt = req.Contents[0].Parts[0].Text
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, geminiReply("Score: 9/10\nFeedback: Clear and correct."))
	}))
	defer server.Close()

	scorer := NewGeminiScorer(GeminiConfig{APIKey: "secret", Model: "gemini-test", Endpoint: server.URL}, server.Client(), testLogger())

	res, err := scorer.Score(context.Background(), Request{Question: "What is photosynthesis?", Rubric: "light energy", Answer: "Plants use light."})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if res.Score != 90 || res.Feedback != "Clear and correct." {
		t.Errorf("Score() = %+v", res)
	}
	if gotPath != "/models/gemini-test:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("key = %q", gotKey)
	}
	if !strings.Contains(gotPrompt, "What is photosynthesis?") || !strings.Contains(gotPrompt, "Plants use light.") {
		t.Errorf("prompt missing question or answer: %q", gotPrompt)
	}
}

func TestGeminiScorer_StatusClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{name: "server error", status: http.StatusBadGateway, wantRetryable: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantRetryable: true},
		{name: "bad request", status: http.StatusBadRequest, wantRetryable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			scorer := NewGeminiScorer(GeminiConfig{APIKey: "k", Model: "m", Endpoint: server.URL}, server.Client(), testLogger())
			_, err := scorer.Score(context.Background(), Request{Answer: "x"})

			var failure *FailureError
			if !errors.As(err, &failure) {
				t.Fatalf("expected FailureError, got %v", err)
			}
			if failure.StatusCode != tt.status || failure.Retryable != tt.wantRetryable {
				t.Errorf("got status %d retryable %v", failure.StatusCode, failure.Retryable)
			}
		})
	}
}

func TestGeminiScorer_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	scorer := NewGeminiScorer(GeminiConfig{APIKey: "k", Model: "m", Endpoint: server.URL}, server.Client(), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := scorer.Score(ctx, Request{Answer: "x"})
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestRetryingScorer(t *testing.T) {
	cfg := RetryConfig{Timeout: 20 * time.Millisecond, MaxRetries: 2, RetryBackoff: time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var calls int32
		next := ScorerFunc(func(ctx context.Context, req Request) (*Result, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, &FailureError{StatusCode: 503, Retryable: true, Err: errors.New("unavailable")}
			}
			return &Result{Score: 60, Feedback: "ok"}, nil
		})

		res, err := NewRetryingScorer(next, cfg, testLogger()).Score(context.Background(), Request{})
		if err != nil {
			t.Fatalf("Score() error = %v", err)
		}
		if res.Score != 60 || atomic.LoadInt32(&calls) != 3 {
			t.Errorf("got %+v after %d calls", res, calls)
		}
	})

	t.Run("gives up after two retries on timeout", func(t *testing.T) {
		var calls int32
		next := ScorerFunc(func(ctx context.Context, req Request) (*Result, error) {
			atomic.AddInt32(&calls, 1)
			<-ctx.Done()
			return nil, ctx.Err()
		})

		_, err := NewRetryingScorer(next, cfg, testLogger()).Score(context.Background(), Request{})
		var timeout *TimeoutError
		if !errors.As(err, &timeout) {
			t.Fatalf("expected TimeoutError, got %v", err)
		}
		if timeout.Attempts != 3 || atomic.LoadInt32(&calls) != 3 {
			t.Errorf("attempts = %d, calls = %d, want 3", timeout.Attempts, calls)
		}
	})

	t.Run("does not retry malformed verdicts", func(t *testing.T) {
		var calls int32
		next := ScorerFunc(func(ctx context.Context, req Request) (*Result, error) {
			atomic.AddInt32(&calls, 1)
			return nil, &FailureError{Err: errors.New("garbage")}
		})

		_, err := NewRetryingScorer(next, cfg, testLogger()).Score(context.Background(), Request{})
		if !IsOracleError(err) || atomic.LoadInt32(&calls) != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})
}

func TestKeywordScorer(t *testing.T) {
	scorer := NewKeywordScorer()
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want float64
	}{
		{name: "blank answer", req: Request{Rubric: "chlorophyll absorbs light", Answer: "  "}, want: 0},
		{name: "no rubric", req: Request{Answer: "something"}, want: 100},
		{name: "all keywords", req: Request{Rubric: "chlorophyll absorbs light", Answer: "Chlorophyll absorbs LIGHT."}, want: 100},
		{name: "half keywords", req: Request{Rubric: "mitochondria produces energy cells", Answer: "the mitochondria in cells"}, want: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := scorer.Score(ctx, tt.req)
			if err != nil {
				t.Fatalf("Score() error = %v", err)
			}
			if res.Score != tt.want {
				t.Errorf("Score() = %v, want %v", res.Score, tt.want)
			}
		})
	}
}
