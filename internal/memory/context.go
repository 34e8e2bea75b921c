package memory

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

var (
	encOnce sync.Once
	enc     tokenizer.Codec
)

// countTokens measures text against the cl100k vocabulary. Falls back to a
// bytes/4 estimate if the tokenizer cannot be initialized.
func countTokens(text string) int {
	encOnce.Do(func() {
		var err error
		enc, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("Tokenizer unavailable, using byte estimate")
		}
	})
	if enc == nil {
		return len(text) / 4
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// BuildPromptContext renders a snapshot into the textual context handed to
// the inference provider, trimmed to the token budget. The rolling summary
// and source content are included first; recent exchanges fill the remainder,
// newest kept, rendered oldest-first.
func BuildPromptContext(snap *Snapshot, budget int) string {
	if budget <= 0 {
		budget = 3000
	}

	var head strings.Builder
	if snap.Summary != "" {
		head.WriteString("Conversation summary:\n")
		head.WriteString(snap.Summary)
		head.WriteString("\n\n")
	}
	if snap.SourceTitle != "" || snap.SourceSummary != "" || snap.SourceBody != "" {
		head.WriteString("Source content")
		if snap.SourceTitle != "" {
			head.WriteString(" (")
			head.WriteString(snap.SourceTitle)
			head.WriteString(")")
		}
		head.WriteString(":\n")
		if snap.SourceSummary != "" {
			head.WriteString(snap.SourceSummary)
			head.WriteString("\n")
		}
		if snap.SourceBody != "" {
			head.WriteString(trimToTokens(snap.SourceBody, budget/2))
			head.WriteString("\n")
		}
		head.WriteString("\n")
	}

	remaining := budget - countTokens(head.String())

	// Walk most-recent-first so the newest exchanges survive the budget.
	var kept []string
	for _, ex := range snap.Exchanges {
		block := "User: " + ex.UserText + "\nAssistant: " + ex.ResponseText + "\n"
		cost := countTokens(block)
		if cost > remaining {
			break
		}
		remaining -= cost
		kept = append(kept, block)
	}

	var sb strings.Builder
	sb.WriteString(head.String())
	if len(kept) > 0 {
		sb.WriteString("Recent exchanges:\n")
		// Render chronologically.
		for i := len(kept) - 1; i >= 0; i-- {
			sb.WriteString(kept[i])
		}
	}
	return sb.String()
}

// trimToTokens truncates text to roughly the given token budget.
func trimToTokens(text string, budget int) string {
	if budget <= 0 || countTokens(text) <= budget {
		return text
	}
	// Binary search the longest prefix within budget.
	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if countTokens(text[:mid]) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return text[:lo]
}
