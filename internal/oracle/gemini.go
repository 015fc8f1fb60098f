package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const geminiPrompt = `You are an AI teacher evaluating a student's short answer response.
Given the question, the grading rubric and the student's answer, provide:
- A score (0-100) based on relevance, correctness, and clarity.
- Constructive feedback for improvement.

Question: %s
Rubric: %s
Student's Answer: %s

Format:
Score: <score>/100
Feedback: <detailed feedback>`

var scorePattern = regexp.MustCompile(`(?is)Score:\s*(\d+(?:\.\d+)?)\s*/\s*(100|10)\b\s*Feedback:\s*(.*)`)

// GeminiConfig configures the Gemini generateContent client
type GeminiConfig struct {
	APIKey   string
	Model    string
	Endpoint string
}

// GeminiScorer scores answers with a Gemini model
type GeminiScorer struct {
	client *http.Client
	config GeminiConfig
	logger *slog.Logger
}

// NewGeminiScorer creates a scorer. Timeouts come from the request context.
func NewGeminiScorer(cfg GeminiConfig, client *http.Client, logger *slog.Logger) *GeminiScorer {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiScorer{client: client, config: cfg, logger: logger}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *GeminiScorer) Score(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: fmt.Sprintf(geminiPrompt, req.Question, req.Rubric, req.Answer)}},
		}},
	})
	if err != nil {
		return nil, &FailureError{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(g.config.Endpoint, "/"), g.config.Model, url.QueryEscape(g.config.APIKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &FailureError{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &TimeoutError{Attempts: 1, Err: err}
		}
		if errors.Is(err, context.Canceled) {
			return nil, &FailureError{Err: err}
		}
		return nil, &FailureError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Attempts: 1, Err: err}
		}
		return nil, &FailureError{Retryable: true, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &FailureError{
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:        fmt.Errorf("unexpected response: %s", truncate(string(payload), 200)),
		}
	}

	var decoded geminiResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &FailureError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return nil, &FailureError{StatusCode: resp.StatusCode, Err: errors.New("response has no candidates")}
	}

	result, err := ParseVerdict(decoded.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		g.logger.Warn("Unparseable oracle verdict", "model", g.config.Model, "error", err)
		return nil, err
	}
	return result, nil
}

// ParseVerdict extracts "Score: n/100" (or the older n/10 scale) and the feedback text
func ParseVerdict(text string) (*Result, error) {
	match := scorePattern.FindStringSubmatch(text)
	if match == nil {
		return nil, &FailureError{Err: fmt.Errorf("verdict not in expected format: %q", truncate(text, 120))}
	}

	score, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil, &FailureError{Err: fmt.Errorf("invalid score %q: %w", match[1], err)}
	}
	if match[2] == "10" {
		score *= 10
	}
	if err := ValidateScore(score); err != nil {
		return nil, err
	}

	return &Result{Score: score, Feedback: strings.TrimSpace(match[3])}, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
