// Package memory provides the per-session working-set cache used to build
// prompt context: recent exchanges, rolling summary, and the cached artifact
// list.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/strand/pkg/models"
)

// Store is the persistence surface the cache rebuilds snapshots from.
type Store interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	LoadRecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	ListArtifacts(ctx context.Context, sessionID string) ([]models.GeneratedArtifact, error)
	GetSourceContent(ctx context.Context, id string) (*models.SourceContent, error)
}

// Snapshot is the rebuildable working context for one session. Exchanges are
// ordered most-recent-first.
type Snapshot struct {
	SessionID     string
	UserID        string
	Exchanges     []models.Exchange
	Summary       string
	Artifacts     []models.GeneratedArtifact
	SourceTitle   string
	SourceSummary string
	SourceBody    string
	BuiltAt       time.Time
}

// entry is the mutable cached state behind a snapshot. All access goes
// through its mutex; Ensure hands out copies.
type entry struct {
	mu             sync.Mutex
	snap           Snapshot
	artifactsStale bool
}

// Config holds cache tuning.
type Config struct {
	TTL          time.Duration
	MaxEntries   int
	MaxExchanges int
}

// Cache is the process-wide session memory cache. Entries expire after a
// fixed TTL; rebuilds are deduplicated so concurrent misses for the same
// session hit persistence once.
type Cache struct {
	store        Store
	entries      *expirable.LRU[string, *entry]
	group        singleflight.Group
	maxExchanges int
}

// New creates a cache backed by the given persistence store.
func New(store Store, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	if cfg.MaxExchanges <= 0 {
		cfg.MaxExchanges = 10
	}
	return &Cache{
		store:        store,
		entries:      expirable.NewLRU[string, *entry](cfg.MaxEntries, nil, cfg.TTL),
		maxExchanges: cfg.MaxExchanges,
	}
}

// rebuildTimeout bounds a detached rebuild so a wedged store cannot hold the
// singleflight key forever.
const rebuildTimeout = 15 * time.Second

// Ensure returns the session's snapshot, rebuilding it from persistence on a
// miss or after expiry. A rebuild failure propagates — a partially built
// snapshot is never served as authoritative context.
func (c *Cache) Ensure(ctx context.Context, sessionID, userID string) (*Snapshot, error) {
	if e, ok := c.entries.Get(sessionID); ok {
		return c.read(ctx, e)
	}

	v, err, _ := c.group.Do(sessionID, func() (interface{}, error) {
		// Re-check: another caller may have rebuilt while we waited.
		if e, ok := c.entries.Get(sessionID); ok {
			return e, nil
		}
		// The rebuild's result is shared with every waiter on this key, so
		// it must not run on any single caller's context: a task cancelled
		// mid-rebuild (superseded by a newer message) would otherwise poison
		// the waiters with its cancellation.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rebuildTimeout)
		defer cancel()
		e, err := c.rebuild(rctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		c.entries.Add(sessionID, e)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return c.read(ctx, v.(*entry))
}

// read copies the entry's snapshot, re-fetching the artifact list first if it
// was invalidated.
func (c *Cache) read(ctx context.Context, e *entry) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.artifactsStale {
		artifacts, err := c.store.ListArtifacts(ctx, e.snap.SessionID)
		if err != nil {
			return nil, fmt.Errorf("refresh artifacts: %w", err)
		}
		e.snap.Artifacts = artifacts
		e.artifactsStale = false
	}

	snap := e.snap
	snap.Exchanges = append([]models.Exchange(nil), e.snap.Exchanges...)
	snap.Artifacts = append([]models.GeneratedArtifact(nil), e.snap.Artifacts...)
	return &snap, nil
}

// rebuild loads everything the snapshot needs from persistence.
func (c *Cache) rebuild(ctx context.Context, sessionID, userID string) (*entry, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	messages, err := c.store.LoadRecentMessages(ctx, sessionID, c.maxExchanges)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	artifacts, err := c.store.ListArtifacts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}

	snap := Snapshot{
		SessionID: sessionID,
		UserID:    userID,
		Summary:   session.Summary.String,
		Artifacts: artifacts,
		BuiltAt:   time.Now(),
	}
	if snap.UserID == "" {
		snap.UserID = session.UserID
	}

	// Messages arrive most-recent-first and stay that way.
	for _, m := range messages {
		snap.Exchanges = append(snap.Exchanges, models.Exchange{
			UserText:     m.UserText,
			ResponseText: m.ResponseText,
			AtEpoch:      m.CreatedAtEpoch,
		})
	}

	if session.SourceContentID.Valid {
		content, err := c.store.GetSourceContent(ctx, session.SourceContentID.String)
		if err != nil {
			return nil, fmt.Errorf("load source content: %w", err)
		}
		if content != nil {
			snap.SourceTitle = content.Title
			snap.SourceSummary = content.Summary
			snap.SourceBody = content.Body
		}
	}

	log.Debug().Str("sessionId", sessionID).Int("exchanges", len(snap.Exchanges)).
		Int("artifacts", len(snap.Artifacts)).Msg("Memory snapshot rebuilt")

	return &entry{snap: snap}, nil
}

// AppendExchange adds a completed exchange to the cached snapshot in place,
// dropping the oldest beyond the configured bound. Cache-only — persisting
// the message is the completion pipeline's job.
func (c *Cache) AppendExchange(sessionID, userText, responseText string) {
	e, ok := c.entries.Get(sessionID)
	if !ok {
		// Nothing cached; the next Ensure rebuilds from persistence, which
		// already holds the message.
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	exchanges := make([]models.Exchange, 0, len(e.snap.Exchanges)+1)
	exchanges = append(exchanges, models.Exchange{
		UserText:     userText,
		ResponseText: responseText,
		AtEpoch:      time.Now().UnixMilli(),
	})
	exchanges = append(exchanges, e.snap.Exchanges...)
	if len(exchanges) > c.maxExchanges {
		exchanges = exchanges[:c.maxExchanges]
	}
	e.snap.Exchanges = exchanges
}

// InvalidateArtifacts forces the artifact list to be re-fetched on the next
// read, so stale reads cannot win a race with a concurrent upsert.
func (c *Cache) InvalidateArtifacts(sessionID string) {
	if e, ok := c.entries.Get(sessionID); ok {
		e.mu.Lock()
		e.artifactsStale = true
		e.mu.Unlock()
	}
}

// UpdateSummary updates the cached rolling summary. The persisted update is
// written by the completion pipeline.
func (c *Cache) UpdateSummary(sessionID, summary string) {
	if e, ok := c.entries.Get(sessionID); ok {
		e.mu.Lock()
		e.snap.Summary = summary
		e.mu.Unlock()
	}
}

// Invalidate drops a session's entry entirely.
func (c *Cache) Invalidate(sessionID string) {
	c.entries.Remove(sessionID)
}

// Purge drops every cached entry. Used when the backing store is recreated.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int {
	return c.entries.Len()
}
