package models

import "fmt"

// Intent is the classified purpose of a user message. The enumeration is
// closed: classifier output outside this set is a classification error, never
// a guess.
type Intent string

const (
	IntentGeneral            Intent = "general"
	IntentContentQuestion    Intent = "content_question"
	IntentGenerateArtifact   Intent = "generate_artifact"
	IntentEditArtifact       Intent = "edit_artifact"
	IntentNeedsClarification Intent = "needs_clarification"
)

// ParseIntent validates a raw intent string against the closed enumeration.
func ParseIntent(s string) (Intent, error) {
	switch Intent(s) {
	case IntentGeneral, IntentContentQuestion, IntentGenerateArtifact,
		IntentEditArtifact, IntentNeedsClarification:
		return Intent(s), nil
	}
	return "", fmt.Errorf("unknown intent %q", s)
}

// IntentResult is the output of classification.
type IntentResult struct {
	Intent             Intent   `json:"intent"`
	Confidence         float64  `json:"confidence"`
	Reasoning          string   `json:"reasoning,omitempty"`
	ClarifyingQuestion string   `json:"clarifying_question,omitempty"`
	SuggestedReplies   []string `json:"suggested_replies,omitempty"`
	Platform           string   `json:"platform,omitempty"`
}
