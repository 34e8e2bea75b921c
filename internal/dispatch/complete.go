package dispatch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/strand/internal/inference"
	"github.com/thebtf/strand/internal/privacy"
	"github.com/thebtf/strand/internal/stream"
	"github.com/thebtf/strand/pkg/models"
)

// complete is the completion pipeline: emit the terminal event, persist the
// exchange (and artifact, if any), update the memory cache, and retire the
// handle. A persistence failure after a successful generation is a degraded
// success — the emitted stream.end stands and nothing is retried, so a flaky
// store cannot produce duplicate rows.
func (d *Dispatcher) complete(t *task, h *stream.Handle, userText string, result *inference.Result, messageType models.MessageType, artifact *inference.Artifact, intent models.Intent) {
	sessionID := h.SessionID

	// A task that lost the race to a newer message or a cancel persists
	// nothing, even if its generation finished successfully.
	if !d.registry.IsActive(sessionID, h) {
		d.finishInterrupted(t, h)
		return
	}

	var payload *models.ArtifactPayload
	if artifact != nil {
		payload = &models.ArtifactPayload{
			Platform:    models.Platform(artifact.Platform),
			Content:     artifact.Content,
			Snippets:    artifact.Snippets,
			VisualIdeas: artifact.VisualIdeas,
		}
	}

	d.emit(h, models.StreamEnd(sessionID, result.Content, messageType, payload))
	t.to(StateCompleted)
	d.metrics.add(d.metrics.completed, 1)

	// Persistence runs on its own context: the handle may be retired at any
	// moment, and a half-applied unit of work is worse than a late one.
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistTimeout)
	defer cancel()

	degraded := false
	cleanText := privacy.Clean(userText)

	if _, err := d.store.SaveMessage(ctx, sessionID, cleanText, result.Content, messageType); err != nil {
		degraded = true
		log.Error().Err(err).
			Str("sessionId", sessionID).
			Str("code", models.CodePersistenceError).
			Msg("Failed to persist message after successful generation")
	}

	if artifact != nil {
		_, err := d.store.UpsertArtifact(ctx, sessionID, models.Platform(artifact.Platform),
			artifact.Content, artifact.Snippets, artifact.VisualIdeas)
		if err != nil {
			degraded = true
			log.Error().Err(err).
				Str("sessionId", sessionID).
				Str("platform", artifact.Platform).
				Str("code", models.CodePersistenceError).
				Msg("Failed to upsert artifact after successful generation")
		} else {
			d.cache.InvalidateArtifacts(sessionID)
		}
	}

	if degraded {
		// The cached snapshot must not claim exchanges the store lost; drop
		// it and let the next read rebuild from what actually committed.
		d.cache.Invalidate(sessionID)
	} else if d.registry.IsActive(sessionID, h) {
		// Only the still-active task may append, so a stale response cannot
		// resurrect into the cache after a newer one completed.
		d.cache.AppendExchange(sessionID, cleanText, result.Content)
	}

	if result.Summary != "" && !degraded {
		d.cache.UpdateSummary(sessionID, result.Summary)
		if err := d.store.UpdateSessionSummary(ctx, sessionID, result.Summary); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to persist rolling summary")
		}
	}

	if err := d.store.UpdateLastIntent(ctx, sessionID, intent); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to persist last intent")
	}

	d.registry.End(sessionID, h)
}
