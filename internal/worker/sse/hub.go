// Package sse provides session-scoped Server-Sent Events fan-out for strand.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/strand/pkg/models"
)

const (
	// WriteTimeout is the timeout for writing to SSE clients.
	// Prevents blocking on stale connections.
	WriteTimeout = 2 * time.Second
)

// Client represents one SSE connection following a single session.
type Client struct {
	ID        string
	SessionID string
	Writer    http.ResponseWriter
	Flusher   http.Flusher
	Done      chan struct{}
}

// DisconnectFunc is invoked with the connection id after a client leaves, so
// the owner can cancel any streams that connection started.
type DisconnectFunc func(connID string)

// Hub manages SSE connections keyed by session and fans stream events out to
// every client following that session.
type Hub struct {
	clients      map[string]*Client            // by connection id
	sessions     map[string]map[string]*Client // session id -> connection id -> client
	mu           sync.RWMutex
	onDisconnect DisconnectFunc
}

// NewHub creates an SSE hub. onDisconnect may be nil.
func NewHub(onDisconnect DisconnectFunc) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		sessions:     make(map[string]map[string]*Client),
		onDisconnect: onDisconnect,
	}
}

// Subscribe registers a new client connection for a session.
func (h *Hub) Subscribe(w http.ResponseWriter, sessionID string) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	client := &Client{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Writer:    w,
		Flusher:   flusher,
		Done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]*Client)
	}
	h.sessions[sessionID][client.ID] = client
	total := len(h.clients)
	h.mu.Unlock()

	log.Debug().
		Str("connId", client.ID).
		Str("sessionId", sessionID).
		Int("totalClients", total).
		Msg("SSE client connected")

	return client, nil
}

// Unsubscribe removes a client connection and fires the disconnect callback.
func (h *Hub) Unsubscribe(client *Client) {
	h.remove(client.ID)
}

func (h *Hub) remove(connID string) {
	h.mu.Lock()
	client, exists := h.clients[connID]
	if exists {
		delete(h.clients, connID)
		if followers := h.sessions[client.SessionID]; followers != nil {
			delete(followers, connID)
			if len(followers) == 0 {
				delete(h.sessions, client.SessionID)
			}
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !exists {
		return
	}

	select {
	case <-client.Done:
		// Already closed
	default:
		close(client.Done)
	}

	log.Debug().
		Str("connId", connID).
		Str("sessionId", client.SessionID).
		Int("totalClients", total).
		Msg("SSE client disconnected")

	if h.onDisconnect != nil {
		h.onDisconnect(connID)
	}
}

// Emit sends a stream event to every client following the session.
// Uses non-blocking writes with timeout to prevent stale connections from blocking.
func (h *Hub) Emit(sessionID string, event models.StreamEvent) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE event")
		return
	}

	message := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, jsonData)

	h.mu.RLock()
	followers := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, client := range h.sessions[sessionID] {
		followers = append(followers, client)
	}
	h.mu.RUnlock()

	if len(followers) == 0 {
		return
	}

	// Collect dead clients from concurrent writes
	deadCh := make(chan string, len(followers))
	var wg sync.WaitGroup

	for _, client := range followers {
		select {
		case <-client.Done:
			continue
		default:
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				h.writeToClient(c, message, deadCh)
			}(client)
		}
	}

	wg.Wait()
	close(deadCh)

	for connID := range deadCh {
		h.remove(connID)
	}
}

// writeToClient writes a message to a single client with timeout.
func (h *Hub) writeToClient(client *Client, message string, deadCh chan<- string) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := client.Writer.Write([]byte(message))
		if err != nil {
			log.Debug().
				Str("connId", client.ID).
				Err(err).
				Msg("Failed to write to SSE client, marking for removal")
			deadCh <- client.ID
			return
		}
		client.Flusher.Flush()
	}()

	select {
	case <-done:
		// Write completed
	case <-time.After(WriteTimeout):
		log.Warn().
			Str("connId", client.ID).
			Dur("timeout", WriteTimeout).
			Msg("SSE write timed out, marking client for removal")
		deadCh <- client.ID
	case <-client.Done:
		// Client disconnected during write
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SessionClientCount returns the number of clients following one session.
func (h *Hub) SessionClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Serve handles an SSE subscription request for a session. It blocks until
// the client disconnects or the request context is cancelled.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client, err := h.Subscribe(w, sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer h.Unsubscribe(client)

	// The connected frame carries the connection id clients echo back on
	// message.send so interrupted streams can be tied to their connection.
	fmt.Fprintf(w, "event: session.join\ndata: {\"type\":\"session.join\",\"sessionId\":%q,\"connId\":%q}\n\n", sessionID, client.ID)
	client.Flusher.Flush()

	select {
	case <-r.Context().Done():
	case <-client.Done:
	}
}
