package intent

import (
	"fmt"
	"strings"

	"github.com/thebtf/strand/internal/memory"
)

const classifierSystemPrompt = `You classify a user's chat message into exactly one intent.

Valid intents:
- "general": small talk or support questions not about the source content
- "content_question": a question about the linked source content
- "generate_artifact": a request to create a social post or similar artifact
- "edit_artifact": a request to change an artifact generated earlier
- "needs_clarification": the request is too ambiguous to route

Respond with a single JSON object and nothing else:
{"intent": "...", "confidence": 0.0, "reasoning": "...", "clarifying_question": "...", "suggested_replies": [], "platform": ""}

Set "platform" (linkedin, twitter, instagram, facebook) only when the message names one.
Set "clarifying_question" and "suggested_replies" only for "needs_clarification".`

// BuildClassificationPrompt renders the message plus recent conversation
// context for the classifier call.
func BuildClassificationPrompt(message string, snap *memory.Snapshot, exchanges int) string {
	var sb strings.Builder

	if snap != nil {
		if snap.SourceTitle != "" {
			sb.WriteString(fmt.Sprintf("<source_content title=%q />\n", snap.SourceTitle))
		}
		if len(snap.Artifacts) > 0 {
			sb.WriteString("<existing_artifacts>\n")
			for _, a := range snap.Artifacts {
				sb.WriteString(fmt.Sprintf("  <artifact platform=%q />\n", a.Platform))
			}
			sb.WriteString("</existing_artifacts>\n")
		}

		pairs := snap.Exchanges
		if len(pairs) > exchanges {
			pairs = pairs[:exchanges]
		}
		if len(pairs) > 0 {
			sb.WriteString("<recent_exchanges>\n")
			// Most-recent-first in the snapshot; render chronologically.
			for i := len(pairs) - 1; i >= 0; i-- {
				sb.WriteString("  <user>")
				sb.WriteString(pairs[i].UserText)
				sb.WriteString("</user>\n  <assistant>")
				sb.WriteString(pairs[i].ResponseText)
				sb.WriteString("</assistant>\n")
			}
			sb.WriteString("</recent_exchanges>\n")
		}
	}

	sb.WriteString("<message>")
	sb.WriteString(message)
	sb.WriteString("</message>")
	return sb.String()
}
