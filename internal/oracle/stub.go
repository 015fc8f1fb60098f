package oracle

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// KeywordScorer is a deterministic offline scorer: the share of rubric keywords
// found in the answer. Used when no Gemini key is configured.
type KeywordScorer struct{}

func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{}
}

func (k *KeywordScorer) Score(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TimeoutError{Attempts: 1, Err: err}
	}

	answer := keywordSet(req.Answer)
	if len(answer) == 0 {
		return &Result{Score: 0, Feedback: "No answer provided."}, nil
	}

	reference := keywordSet(req.Rubric)
	if len(reference) == 0 {
		return &Result{Score: 100, Feedback: "Answer recorded; no rubric to compare against."}, nil
	}

	hits := 0
	for word := range reference {
		if answer[word] {
			hits++
		}
	}

	score := math.Round(100 * float64(hits) / float64(len(reference)))
	feedback := "Covers every key point of the rubric."
	if hits < len(reference) {
		feedback = fmt.Sprintf("Matched %d of %d key terms.", hits, len(reference))
	}
	return &Result{Score: score, Feedback: feedback}, nil
}

func keywordSet(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if len([]rune(w)) > 3 {
			set[w] = true
		}
	}
	return set
}
