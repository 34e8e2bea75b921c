// Package inference defines the boundary to the inference provider: prompt in,
// streamed tokens and a terminal result out.
package inference

import "context"

// Request carries everything a single provider call needs.
type Request struct {
	System      string
	Prompt      string
	Context     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Artifact is generated, platform-tagged content attached to a Result.
type Artifact struct {
	Platform    string
	Content     string
	Snippets    []string
	VisualIdeas []string
}

// Result is the terminal output of a generation call.
type Result struct {
	Content  string
	Artifact *Artifact
	Summary  string
}

// TokenFunc receives incremental tokens. It is invoked zero or more times
// before Generate returns.
type TokenFunc func(token string)

// Provider turns a prompt and context into a response. Implementations must
// respect ctx on a best-effort basis; the orchestrator suppresses and discards
// output from calls that outlive their cancellation.
type Provider interface {
	// Generate streams a response, invoking onToken per increment.
	Generate(ctx context.Context, req Request, onToken TokenFunc) (*Result, error)
	// Complete returns a full response without streaming. Used for
	// classification and other short structured calls.
	Complete(ctx context.Context, req Request) (string, error)
}
