package sse

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/strand/pkg/models"
)

// mockResponseWriter implements http.ResponseWriter and http.Flusher for testing.
type mockResponseWriter struct {
	header http.Header
	body   []byte
	mu     sync.Mutex
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{header: make(http.Header)}
}

func (m *mockResponseWriter) Header() http.Header {
	return m.header
}

func (m *mockResponseWriter) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body = append(m.body, data...)
	return len(data), nil
}

func (m *mockResponseWriter) WriteHeader(statusCode int) {}

func (m *mockResponseWriter) Flush() {}

func (m *mockResponseWriter) GetBody() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.body)
}

// HubSuite is a test suite for Hub operations.
type HubSuite struct {
	suite.Suite
	hub *Hub
}

func (s *HubSuite) SetupTest() {
	s.hub = NewHub(nil)
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func (s *HubSuite) TestSubscribe() {
	w := newMockResponseWriter()

	client, err := s.hub.Subscribe(w, "sess-1")
	s.NoError(err)
	s.NotNil(client)
	s.NotEmpty(client.ID)
	s.Equal("sess-1", client.SessionID)
	s.NotNil(client.Done)
	s.Equal(1, s.hub.ClientCount())
	s.Equal(1, s.hub.SessionClientCount("sess-1"))
}

func (s *HubSuite) TestUnsubscribe() {
	w := newMockResponseWriter()
	client, err := s.hub.Subscribe(w, "sess-1")
	s.Require().NoError(err)

	s.hub.Unsubscribe(client)

	s.Equal(0, s.hub.ClientCount())
	s.Equal(0, s.hub.SessionClientCount("sess-1"))

	select {
	case <-client.Done:
		// Expected - channel is closed
	default:
		s.Fail("Done channel should be closed")
	}
}

func (s *HubSuite) TestEmitReachesOnlySessionFollowers() {
	w1 := newMockResponseWriter()
	w2 := newMockResponseWriter()
	other := newMockResponseWriter()

	_, err := s.hub.Subscribe(w1, "sess-1")
	s.Require().NoError(err)
	_, err = s.hub.Subscribe(w2, "sess-1")
	s.Require().NoError(err)
	_, err = s.hub.Subscribe(other, "sess-2")
	s.Require().NoError(err)

	s.hub.Emit("sess-1", models.StreamToken("sess-1", "hello"))
	time.Sleep(50 * time.Millisecond)

	s.Contains(w1.GetBody(), "event: stream.token")
	s.Contains(w1.GetBody(), "hello")
	s.Contains(w2.GetBody(), "hello")
	s.Empty(other.GetBody())
}

func (s *HubSuite) TestEmitNoFollowers() {
	// Should not panic
	s.hub.Emit("sess-ghost", models.StreamStart("sess-ghost"))
}

func (s *HubSuite) TestEmitEventPayload() {
	w := newMockResponseWriter()
	_, err := s.hub.Subscribe(w, "sess-1")
	s.Require().NoError(err)

	payload := &models.ArtifactPayload{Platform: models.PlatformLinkedIn, Content: "a post"}
	s.hub.Emit("sess-1", models.StreamEnd("sess-1", "a post", models.MessageTypeArtifact, payload))
	time.Sleep(50 * time.Millisecond)

	body := w.GetBody()
	s.Contains(body, "event: stream.end")
	s.Contains(body, `"sessionId":"sess-1"`)
	s.Contains(body, `"messageType":"artifact"`)
	s.Contains(body, `"platform":"linkedin"`)
}

func (s *HubSuite) TestDisconnectCallback() {
	var mu sync.Mutex
	var gone []string
	hub := NewHub(func(connID string) {
		mu.Lock()
		gone = append(gone, connID)
		mu.Unlock()
	})

	w := newMockResponseWriter()
	client, err := hub.Subscribe(w, "sess-1")
	require.NoError(s.T(), err)

	hub.Unsubscribe(client)

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{client.ID}, gone)
}

func (s *HubSuite) TestUnsubscribeUnknownClient() {
	client := &Client{ID: "never-subscribed", Done: make(chan struct{})}

	// Should not panic and should not fire callbacks
	s.hub.Unsubscribe(client)
	s.Equal(0, s.hub.ClientCount())
}

// TestClientUniqueIDs tests that clients get unique connection ids.
func TestClientUniqueIDs(t *testing.T) {
	h := NewHub(nil)
	ids := make(map[string]bool)

	for i := 0; i < 100; i++ {
		w := newMockResponseWriter()
		client, err := h.Subscribe(w, "sess-1")
		require.NoError(t, err)

		assert.False(t, ids[client.ID], "ID %s should be unique", client.ID)
		ids[client.ID] = true
	}
}

// TestConcurrentEmit tests concurrent fan-out.
func TestConcurrentEmit(t *testing.T) {
	h := NewHub(nil)

	for i := 0; i < 10; i++ {
		w := newMockResponseWriter()
		_, err := h.Subscribe(w, "sess-1")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Emit("sess-1", models.StreamToken("sess-1", "t"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, h.ClientCount())
}

// TestConcurrentSubscribeUnsubscribe tests concurrent add/remove operations.
func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	h := NewHub(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := newMockResponseWriter()
			client, err := h.Subscribe(w, "sess-1")
			if err == nil && time.Now().UnixNano()%2 == 0 {
				h.Unsubscribe(client)
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, h.ClientCount(), 0)
}

// TestWriteTimeout tests the write timeout constant.
func TestWriteTimeout(t *testing.T) {
	assert.Equal(t, 2*time.Second, WriteTimeout)
}
