package inference

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const defaultAPIBase = "https://api.openai.com/v1"

// HTTPProvider is an OpenAI-compatible chat-completions client with SSE
// streaming.
type HTTPProvider struct {
	apiKey     string
	apiBase    string
	model      string
	httpClient *http.Client
}

// HTTPConfig configures the provider client.
type HTTPConfig struct {
	APIBase string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewHTTPProvider creates a provider client.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPProvider{
		apiKey:     cfg.APIKey,
		apiBase:    base,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (p *HTTPProvider) buildMessages(req Request) []chatMessage {
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	content := req.Prompt
	if req.Context != "" {
		// Tag the injected context so any of it echoed back by the model can
		// be stripped before persistence.
		content = "<strand-context>\n" + req.Context + "\n</strand-context>\n\n" + req.Prompt
	}
	return append(messages, chatMessage{Role: "user", Content: content})
}

func (p *HTTPProvider) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	body := map[string]interface{}{
		"model":    model,
		"messages": p.buildMessages(req),
		"stream":   stream,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return httpReq, nil
}

// Generate streams a chat completion. The SSE reader goroutine pushes deltas
// onto a channel consumed here, so cancellation closes the stream instead of
// racing a callback flag.
func (p *HTTPProvider) Generate(ctx context.Context, req Request, onToken TokenFunc) (*Result, error) {
	httpReq, err := p.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider request failed: status %d: %s", resp.StatusCode, string(body))
	}

	tokens := make(chan string, 16)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readStream(resp.Body, tokens)
		close(tokens)
	}()

	var sb strings.Builder
	for tok := range tokens {
		sb.WriteString(tok)
		if onToken != nil {
			onToken(tok)
		}
	}

	if err := <-readErr; err != nil {
		// The request context aborts the body read on cancellation; report
		// the cancellation cause rather than the read error.
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}

	return &Result{Content: sb.String()}, nil
}

// readStream parses SSE data lines and forwards content deltas.
func readStream(r io.Reader, tokens chan<- string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			log.Debug().Err(err).Msg("Skipping unparseable stream chunk")
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			tokens <- chunk.Choices[0].Delta.Content
		}
	}
	return scanner.Err()
}

// Complete performs a non-streaming chat completion.
func (p *HTTPProvider) Complete(ctx context.Context, req Request) (string, error) {
	httpReq, err := p.newRequest(ctx, req, false)
	if err != nil {
		return "", err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider request failed: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
