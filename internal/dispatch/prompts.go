package dispatch

import (
	"fmt"

	"github.com/thebtf/strand/pkg/models"
)

const generalSystemPrompt = `You are a helpful assistant for a content platform.
Answer the user's message conversationally and concisely.`

const contentQuestionSystemPrompt = `You are a helpful assistant for a content platform.
Answer the user's question using the source content provided in the context.
If the context does not contain the answer, say so rather than inventing one.`

func artifactSystemPrompt(platform models.Platform) string {
	return fmt.Sprintf(`You write social media content.
Write a %s post based on the source content and conversation context provided.
Return only the post text, with fenced code blocks for any code snippets.`, platform)
}

func editSystemPrompt(platform models.Platform) string {
	return fmt.Sprintf(`You edit social media content.
Apply the user's requested change to the existing %s post provided in the context.
Return only the full revised post text.`, platform)
}

// noArtifactToEditResponse is the short-circuit reply when an edit is
// requested but the session has no generated artifact yet.
const noArtifactToEditResponse = "There's no generated post in this conversation yet. " +
	"Ask me to create one first — for example: \"turn this into a LinkedIn post\"."
