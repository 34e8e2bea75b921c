package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseChunk(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n\n"
}

func TestBuildMessages(t *testing.T) {
	p := NewHTTPProvider(HTTPConfig{Model: "test-model"})

	msgs := p.buildMessages(Request{System: "be brief", Context: "Recent: drafted a launch post.", Prompt: "write a follow-up"})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "be brief", msgs[0].Content)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "<strand-context>\nRecent: drafted a launch post.\n</strand-context>\n\nwrite a follow-up", msgs[1].Content)

	// No context: the prompt goes through untagged.
	msgs = p.buildMessages(Request{Prompt: "write a follow-up"})
	require.Len(t, msgs, 1)
	assert.Equal(t, "write a follow-up", msgs[0].Content)
}

func TestGenerateStreamsTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseChunk("The")))
		w.Write([]byte(sseChunk(" post")))
		w.Write([]byte(sseChunk(" covers X.")))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	p := NewHTTPProvider(HTTPConfig{APIBase: server.URL, APIKey: "sk-test", Model: "test-model"})

	var tokens []string
	result, err := p.Generate(context.Background(), Request{Prompt: "summarize"}, func(tok string) {
		tokens = append(tokens, tok)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"The", " post", " covers X."}, tokens)
	assert.Equal(t, "The post covers X.", result.Content)
}

func TestGenerateCancellation(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseChunk("partial")))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		close(started)
		// Block until the client goes away.
		<-r.Context().Done()
	}))
	defer server.Close()

	p := NewHTTPProvider(HTTPConfig{APIBase: server.URL, Model: "test-model"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := p.Generate(ctx, Request{Prompt: "summarize"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewHTTPProvider(HTTPConfig{APIBase: server.URL, Model: "test-model"})
	_, err := p.Generate(context.Background(), Request{Prompt: "hi"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"intent\":\"general\"}"}}]}`))
	}))
	defer server.Close()

	p := NewHTTPProvider(HTTPConfig{APIBase: server.URL, Model: "test-model"})
	out, err := p.Complete(context.Background(), Request{Prompt: "classify"})
	require.NoError(t, err)
	assert.Equal(t, `{"intent":"general"}`, out)
}

func TestCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	p := NewHTTPProvider(HTTPConfig{APIBase: server.URL, Model: "test-model", Timeout: time.Second})
	_, err := p.Complete(context.Background(), Request{Prompt: "classify"})
	assert.Error(t, err)
}
