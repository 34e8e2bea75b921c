// Package stream tracks the single in-flight generation task per session and
// its cancellation control.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Cancellation causes. A task inspects context.Cause of its handle context to
// decide whether to emit stream.interrupted (user cancel, deadline) or stay
// silent (superseded by a newer message).
var (
	ErrSuperseded  = errors.New("stream superseded")
	ErrInterrupted = errors.New("stream interrupted")
	ErrDeadline    = errors.New("stream deadline exceeded")
)

// cancelCause carries the cause sentinel plus a human-readable reason.
type cancelCause struct {
	err    error
	reason string
}

func (c *cancelCause) Error() string {
	if c.reason == "" {
		return c.err.Error()
	}
	return c.err.Error() + ": " + c.reason
}

func (c *cancelCause) Unwrap() error { return c.err }

// Reason extracts the cancellation reason from a handle context, if any.
func Reason(ctx context.Context) string {
	var cc *cancelCause
	if errors.As(context.Cause(ctx), &cc) {
		return cc.reason
	}
	return ""
}

// Handle identifies exactly one active generation task for a session and
// carries its cancellation control.
type Handle struct {
	ID        string
	SessionID string
	ConnID    string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	timer  *time.Timer
}

// Context returns the handle's cancellation context. Generation calls derive
// from it; context.Cause reports why the handle was retired.
func (h *Handle) Context() context.Context { return h.ctx }

// Cancelled reports whether the handle has been cancelled for any cause.
func (h *Handle) Cancelled() bool { return h.ctx.Err() != nil }

func (h *Handle) retire(cause error, reason string) {
	if h.timer != nil {
		h.timer.Stop()
	}
	h.cancel(&cancelCause{err: cause, reason: reason})
}

// Registry maps session id to the currently active stream handle. All
// operations are O(1) under one mutex and never block on I/O.
type Registry struct {
	mu      sync.Mutex
	active  map[string]*Handle
	timeout time.Duration
}

// NewRegistry creates a registry. A non-zero timeout retires handles that run
// past the deadline (cause ErrDeadline).
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		active:  make(map[string]*Handle),
		timeout: timeout,
	}
}

// Begin retires any existing handle for the session (cause ErrSuperseded) and
// installs a fresh one owned by connID. A user's new message always wins over
// a stale in-flight generation.
func (r *Registry) Begin(sessionID, connID string) *Handle {
	ctx, cancel := context.WithCancelCause(context.Background())
	h := &Handle{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ConnID:    connID,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if r.timeout > 0 {
		h.timer = time.AfterFunc(r.timeout, func() {
			h.cancel(&cancelCause{err: ErrDeadline, reason: "generation timed out"})
		})
	}

	r.mu.Lock()
	prev := r.active[sessionID]
	r.active[sessionID] = h
	r.mu.Unlock()

	if prev != nil {
		prev.retire(ErrSuperseded, "superseded by a newer message")
		log.Debug().
			Str("sessionId", sessionID).
			Str("handleId", h.ID).
			Str("supersededId", prev.ID).
			Msg("Stream superseded")
	}
	return h
}

// Cancel signals cancellation on the session's current handle. The handle
// stays installed so the owning task can still observe its retirement; it is
// removed by End. Returns whether a handle existed, even if it was already
// cancelled and is merely draining — only the first call retires it.
func (r *Registry) Cancel(sessionID, reason string) bool {
	r.mu.Lock()
	h := r.active[sessionID]
	r.mu.Unlock()

	if h == nil {
		return false
	}
	if !h.Cancelled() {
		h.retire(ErrInterrupted, reason)
	}
	return true
}

// IsActive reports whether the handle is still the current, non-cancelled one
// for its session. Tasks call this before every incremental emit and before
// persisting a result.
func (r *Registry) IsActive(sessionID string, h *Handle) bool {
	if h == nil || h.Cancelled() {
		return false
	}
	r.mu.Lock()
	current := r.active[sessionID]
	r.mu.Unlock()
	return current == h
}

// End removes the handle only if it is still the current one for the session,
// so a stale completion cannot clobber a newer handle installed after a race.
func (r *Registry) End(sessionID string, h *Handle) {
	if h == nil {
		return
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	r.mu.Lock()
	if r.active[sessionID] == h {
		delete(r.active, sessionID)
	}
	r.mu.Unlock()
}

// CancelOwned cancels every active handle owned by a connection. Used when a
// connection closes. Returns the number of handles cancelled.
func (r *Registry) CancelOwned(connID, reason string) int {
	r.mu.Lock()
	var owned []*Handle
	for _, h := range r.active {
		if h.ConnID == connID {
			owned = append(owned, h)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, h := range owned {
		if !h.Cancelled() {
			h.retire(ErrInterrupted, reason)
			n++
		}
	}
	return n
}

// CancelAll cancels every active handle. Used on shutdown.
func (r *Registry) CancelAll(reason string) int {
	r.mu.Lock()
	all := make([]*Handle, 0, len(r.active))
	for _, h := range r.active {
		all = append(all, h)
	}
	r.mu.Unlock()

	n := 0
	for _, h := range all {
		if !h.Cancelled() {
			h.retire(ErrInterrupted, reason)
			n++
		}
	}
	return n
}

// ActiveCount returns the number of sessions with an in-flight task.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
