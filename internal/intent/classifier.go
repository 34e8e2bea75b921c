// Package intent classifies user messages into the closed intent set that
// drives task dispatch.
package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/thebtf/strand/internal/inference"
	"github.com/thebtf/strand/internal/memory"
	"github.com/thebtf/strand/pkg/models"
)

// ErrUnparseable is returned when the provider's verdict cannot be decoded
// into a valid IntentResult. The dispatcher treats it as a classification
// failure — never a guessed intent.
var ErrUnparseable = errors.New("unparseable classification output")

// Classifier classifies messages using the inference provider.
type Classifier struct {
	provider  inference.Provider
	model     string
	exchanges int // how many recent exchange pairs to include
}

// New creates a classifier. exchanges bounds how much recent context is sent
// with each classification call.
func New(provider inference.Provider, model string, exchanges int) *Classifier {
	if exchanges <= 0 {
		exchanges = 5
	}
	return &Classifier{provider: provider, model: model, exchanges: exchanges}
}

// verdict is the JSON shape the provider is instructed to return.
type verdict struct {
	Intent             string   `json:"intent"`
	Confidence         float64  `json:"confidence"`
	Reasoning          string   `json:"reasoning"`
	ClarifyingQuestion string   `json:"clarifying_question"`
	SuggestedReplies   []string `json:"suggested_replies"`
	Platform           string   `json:"platform"`
}

// Classify returns exactly one IntentResult for the message, or an error.
// Classification errors are not retried here.
func (c *Classifier) Classify(ctx context.Context, message string, snap *memory.Snapshot) (*models.IntentResult, error) {
	prompt := BuildClassificationPrompt(message, snap, c.exchanges)

	raw, err := c.provider.Complete(ctx, inference.Request{
		System: classifierSystemPrompt,
		Prompt: prompt,
		Model:  c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	return parseVerdict(raw)
}

// parseVerdict extracts and validates the JSON verdict from raw provider
// output, tolerating surrounding prose or markdown fences.
func parseVerdict(raw string) (*models.IntentResult, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in %q", ErrUnparseable, truncate(raw, 120))
	}

	var v verdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	parsed, err := models.ParseIntent(v.Intent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	result := &models.IntentResult{
		Intent:             parsed,
		Confidence:         v.Confidence,
		Reasoning:          v.Reasoning,
		ClarifyingQuestion: v.ClarifyingQuestion,
		SuggestedReplies:   v.SuggestedReplies,
		Platform:           v.Platform,
	}
	if parsed == models.IntentNeedsClarification && result.ClarifyingQuestion == "" {
		result.ClarifyingQuestion = "Could you tell me a bit more about what you'd like to do?"
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
