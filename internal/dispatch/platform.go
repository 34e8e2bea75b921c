package dispatch

import (
	"regexp"
	"strings"

	"github.com/thebtf/strand/pkg/models"
)

// platformKeywords maps message keywords to platform tags. Checked in order
// so the first mention wins.
var platformKeywords = []struct {
	keyword  string
	platform models.Platform
}{
	{"linkedin", models.PlatformLinkedIn},
	{"twitter", models.PlatformTwitter},
	{"tweet", models.PlatformTwitter},
	{" x ", models.PlatformTwitter},
	{"instagram", models.PlatformInstagram},
	{"insta ", models.PlatformInstagram},
	{"facebook", models.PlatformFacebook},
}

// detectPlatform resolves the artifact platform from the message text, the
// classifier's hint, or falls back to generic.
func detectPlatform(message, hint string) models.Platform {
	lowered := " " + strings.ToLower(message) + " "
	for _, kw := range platformKeywords {
		if strings.Contains(lowered, kw.keyword) {
			return kw.platform
		}
	}
	if hint != "" {
		hinted := " " + strings.ToLower(hint) + " "
		for _, kw := range platformKeywords {
			if strings.Contains(hinted, kw.keyword) {
				return kw.platform
			}
		}
	}
	return models.PlatformGeneric
}

var snippetRegex = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\n(.*?)```")

// extractSnippets pulls fenced code blocks out of generated content so they
// can be stored as structured sub-elements.
func extractSnippets(content string) []string {
	matches := snippetRegex.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	snippets := make([]string, 0, len(matches))
	for _, m := range matches {
		if s := strings.TrimSpace(m[1]); s != "" {
			snippets = append(snippets, s)
		}
	}
	return snippets
}
