// Package stream tracks the single in-flight generation task per session.
package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// RegistrySuite is a test suite for Registry operations.
type RegistrySuite struct {
	suite.Suite
	registry *Registry
}

func (s *RegistrySuite) SetupTest() {
	s.registry = NewRegistry(0)
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

// TestBeginInstallsHandle tests basic handle installation.
func (s *RegistrySuite) TestBeginInstallsHandle() {
	h := s.registry.Begin("s1", "conn-1")
	s.NotEmpty(h.ID)
	s.Equal("s1", h.SessionID)
	s.True(s.registry.IsActive("s1", h))
	s.Equal(1, s.registry.ActiveCount())
}

// TestBeginSupersedesPrevious tests that only the most recent handle is
// active, and the previous one is cancelled with the superseded cause.
func (s *RegistrySuite) TestBeginSupersedesPrevious() {
	h1 := s.registry.Begin("s1", "conn-1")
	h2 := s.registry.Begin("s1", "conn-1")
	h3 := s.registry.Begin("s1", "conn-2")

	s.False(s.registry.IsActive("s1", h1))
	s.False(s.registry.IsActive("s1", h2))
	s.True(s.registry.IsActive("s1", h3))

	s.True(h1.Cancelled())
	s.ErrorIs(context.Cause(h1.Context()), ErrSuperseded)
	s.ErrorIs(context.Cause(h2.Context()), ErrSuperseded)
	s.Equal(1, s.registry.ActiveCount())
}

// TestCancel tests explicit interruption.
func (s *RegistrySuite) TestCancel() {
	s.False(s.registry.Cancel("s1", "user requested"))

	h := s.registry.Begin("s1", "conn-1")
	s.True(s.registry.Cancel("s1", "user requested"))
	s.True(h.Cancelled())
	s.ErrorIs(context.Cause(h.Context()), ErrInterrupted)
	s.Equal("user requested", Reason(h.Context()))

	// A cancelled handle is no longer active, but it stays installed until
	// End: cancelling again still reports it existed without replacing the
	// original cause or reason.
	s.False(s.registry.IsActive("s1", h))
	s.True(s.registry.Cancel("s1", "again"))
	s.Equal("user requested", Reason(h.Context()))

	s.registry.End("s1", h)
	s.False(s.registry.Cancel("s1", "after end"))
}

// TestEndOnlyRemovesCurrent tests that a stale End cannot clobber the handle
// installed after it.
func (s *RegistrySuite) TestEndOnlyRemovesCurrent() {
	h1 := s.registry.Begin("s1", "conn-1")
	h2 := s.registry.Begin("s1", "conn-1")

	s.registry.End("s1", h1) // stale, must be a no-op
	s.True(s.registry.IsActive("s1", h2))

	s.registry.End("s1", h2)
	s.Equal(0, s.registry.ActiveCount())
}

// TestConcurrentBegins tests that racing begins on the same session leave
// exactly one active handle.
func (s *RegistrySuite) TestConcurrentBegins() {
	const n = 50
	handles := make([]*Handle, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = s.registry.Begin("s1", "conn-1")
		}(i)
	}
	wg.Wait()

	active := 0
	for _, h := range handles {
		if s.registry.IsActive("s1", h) {
			active++
		}
	}
	s.Equal(1, active)
	s.Equal(1, s.registry.ActiveCount())
}

// TestCancelOwned tests connection-scoped cancellation.
func (s *RegistrySuite) TestCancelOwned() {
	h1 := s.registry.Begin("s1", "conn-1")
	h2 := s.registry.Begin("s2", "conn-1")
	h3 := s.registry.Begin("s3", "conn-2")

	n := s.registry.CancelOwned("conn-1", "connection closed")
	s.Equal(2, n)
	s.True(h1.Cancelled())
	s.True(h2.Cancelled())
	s.False(h3.Cancelled())
}

// TestCancelAll tests shutdown cancellation.
func (s *RegistrySuite) TestCancelAll() {
	s.registry.Begin("s1", "conn-1")
	s.registry.Begin("s2", "conn-2")

	s.Equal(2, s.registry.CancelAll("shutdown"))
	s.Equal(0, s.registry.CancelAll("shutdown"))
}

// TestDeadline tests that the generation timeout retires the handle with the
// deadline cause.
func TestDeadline(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	h := r.Begin("s1", "conn-1")

	select {
	case <-h.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("handle was not cancelled by deadline")
	}

	if !errors.Is(context.Cause(h.Context()), ErrDeadline) {
		t.Fatalf("expected deadline cause, got %v", context.Cause(h.Context()))
	}
	if r.IsActive("s1", h) {
		t.Fatal("timed-out handle must not be active")
	}
}

// TestEndStopsDeadlineTimer tests that a finished task does not fire a stray
// deadline cancellation later.
func TestEndStopsDeadlineTimer(t *testing.T) {
	r := NewRegistry(30 * time.Millisecond)
	h := r.Begin("s1", "conn-1")
	r.End("s1", h)

	time.Sleep(60 * time.Millisecond)
	if h.Cancelled() {
		t.Fatal("ended handle must not be cancelled by its old deadline")
	}
}
