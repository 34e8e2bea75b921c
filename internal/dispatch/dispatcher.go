// Package dispatch routes classified messages to task handlers and owns the
// per-task control flow and completion pipeline.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/strand/internal/inference"
	"github.com/thebtf/strand/internal/memory"
	"github.com/thebtf/strand/internal/stream"
	"github.com/thebtf/strand/pkg/models"
)

// Emitter delivers outbound events to whatever clients follow a session.
type Emitter interface {
	Emit(sessionID string, event models.StreamEvent)
}

// Classifier returns exactly one IntentResult for a message.
type Classifier interface {
	Classify(ctx context.Context, message string, snap *memory.Snapshot) (*models.IntentResult, error)
}

// Persistence is the write surface the completion pipeline uses.
type Persistence interface {
	SaveMessage(ctx context.Context, sessionID, userText, responseText string, messageType models.MessageType) (*models.Message, error)
	UpsertArtifact(ctx context.Context, sessionID string, platform models.Platform, content string, snippets, visualIdeas []string) (*models.GeneratedArtifact, error)
	UpdateSessionSummary(ctx context.Context, sessionID, summary string) error
	UpdateLastIntent(ctx context.Context, sessionID string, intent models.Intent) error
}

// Config holds dispatcher tuning.
type Config struct {
	Model          string
	TokenBudget    int
	PersistTimeout time.Duration
}

// Dispatcher runs the per-message task lifecycle: begin stream, classify,
// route to a handler, stream tokens, and complete.
type Dispatcher struct {
	registry   *stream.Registry
	cache      *memory.Cache
	classifier Classifier
	provider   inference.Provider
	store      Persistence
	emitter    Emitter
	cfg        Config
	metrics    *metrics
}

// New creates a dispatcher.
func New(registry *stream.Registry, cache *memory.Cache, classifier Classifier, provider inference.Provider, store Persistence, emitter Emitter, cfg Config) *Dispatcher {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	return &Dispatcher{
		registry:   registry,
		cache:      cache,
		classifier: classifier,
		provider:   provider,
		store:      store,
		emitter:    emitter,
		cfg:        cfg,
		metrics:    newMetrics(),
	}
}

// Interrupt cancels the session's active stream, if any. The interrupted
// task itself emits the stream.interrupted event when it observes the cancel.
func (d *Dispatcher) Interrupt(sessionID, reason string) bool {
	if reason == "" {
		reason = "interrupted by user"
	}
	return d.registry.Cancel(sessionID, reason)
}

// HandleMessage runs the full lifecycle for one accepted message.send. It
// blocks until the task reaches a terminal state; callers run one goroutine
// per message. Beginning the stream retires any in-flight task for the same
// session — a user's new message always wins over a stale one.
func (d *Dispatcher) HandleMessage(sessionID, userID, connID, content string) {
	d.metrics.add(d.metrics.accepted, 1)

	t := &task{sessionID: sessionID, state: StateIdle}
	h := d.registry.Begin(sessionID, connID)
	ctx := h.Context()

	t.to(StateClassifying)
	d.emit(h, models.StreamStart(sessionID))

	snap, err := d.cache.Ensure(ctx, sessionID, userID)
	if err != nil {
		if h.Cancelled() {
			d.finishInterrupted(t, h)
			return
		}
		d.fail(t, h, models.CodePersistenceError, "failed to load session context", err)
		return
	}

	result, err := d.classifier.Classify(ctx, content, snap)
	if err != nil {
		if h.Cancelled() {
			d.finishInterrupted(t, h)
			return
		}
		d.fail(t, h, models.CodeClassificationError, "intent classification failed", err)
		return
	}

	t.to(StateDispatched)
	log.Debug().
		Str("sessionId", sessionID).
		Str("intent", string(result.Intent)).
		Float64("confidence", result.Confidence).
		Msg("Message classified")

	switch result.Intent {
	case models.IntentNeedsClarification:
		d.handleClarification(t, h, content, result)
	case models.IntentEditArtifact:
		d.handleEdit(t, h, snap, content, result)
	case models.IntentGenerateArtifact:
		d.handleGenerate(t, h, snap, content, result)
	case models.IntentContentQuestion:
		d.handleAnswer(t, h, snap, content, contentQuestionSystemPrompt, result.Intent)
	default:
		d.handleAnswer(t, h, snap, content, generalSystemPrompt, result.Intent)
	}
}

// handleClarification short-circuits to Completed with the clarifying
// question; no generation task runs.
func (d *Dispatcher) handleClarification(t *task, h *stream.Handle, content string, result *models.IntentResult) {
	t.to(StateClarifying)

	response := result.ClarifyingQuestion
	for _, reply := range result.SuggestedReplies {
		response += "\n- " + reply
	}
	d.complete(t, h, content, &inference.Result{Content: response}, models.MessageTypeChat, nil, result.Intent)
}

// handleAnswer covers general support and content questions: both are plain
// chat generations over the snapshot context.
func (d *Dispatcher) handleAnswer(t *task, h *stream.Handle, snap *memory.Snapshot, content, system string, intent models.Intent) {
	t.to(StateGenerating)

	result, err := d.provider.Generate(h.Context(), inference.Request{
		System:  system,
		Prompt:  content,
		Context: memory.BuildPromptContext(snap, d.cfg.TokenBudget),
		Model:   d.cfg.Model,
	}, d.tokenFunc(h))
	if err != nil {
		d.finishGenerationError(t, h, err)
		return
	}

	d.complete(t, h, content, result, models.MessageTypeChat, result.Artifact, intent)
}

// handleGenerate produces a platform-tagged artifact.
func (d *Dispatcher) handleGenerate(t *task, h *stream.Handle, snap *memory.Snapshot, content string, intentResult *models.IntentResult) {
	t.to(StateGenerating)

	platform := detectPlatform(content, intentResult.Platform)
	result, err := d.provider.Generate(h.Context(), inference.Request{
		System:  artifactSystemPrompt(platform),
		Prompt:  content,
		Context: memory.BuildPromptContext(snap, d.cfg.TokenBudget),
		Model:   d.cfg.Model,
	}, d.tokenFunc(h))
	if err != nil {
		d.finishGenerationError(t, h, err)
		return
	}

	artifact := result.Artifact
	if artifact == nil {
		artifact = &inference.Artifact{
			Platform: string(platform),
			Content:  result.Content,
			Snippets: extractSnippets(result.Content),
		}
	} else if artifact.Platform == "" {
		artifact.Platform = string(platform)
	}

	d.complete(t, h, content, result, models.MessageTypeArtifact, artifact, intentResult.Intent)
}

// handleEdit revises an existing artifact in place. With no artifact to edit
// it short-circuits to Completed with a clarifying response instead of
// generating against nothing.
func (d *Dispatcher) handleEdit(t *task, h *stream.Handle, snap *memory.Snapshot, content string, intentResult *models.IntentResult) {
	if len(snap.Artifacts) == 0 {
		t.to(StateClarifying)
		d.complete(t, h, content, &inference.Result{Content: noArtifactToEditResponse}, models.MessageTypeChat, nil, intentResult.Intent)
		return
	}

	t.to(StateGenerating)

	// Pick the artifact named by the message, else the most recent one.
	target := snap.Artifacts[0]
	if platform := detectPlatform(content, intentResult.Platform); platform != models.PlatformGeneric {
		for _, a := range snap.Artifacts {
			if a.Platform == platform {
				target = a
				break
			}
		}
	}

	promptCtx := memory.BuildPromptContext(snap, d.cfg.TokenBudget) +
		"\nExisting post (" + string(target.Platform) + "):\n" + target.Content + "\n"

	result, err := d.provider.Generate(h.Context(), inference.Request{
		System:  editSystemPrompt(target.Platform),
		Prompt:  content,
		Context: promptCtx,
		Model:   d.cfg.Model,
	}, d.tokenFunc(h))
	if err != nil {
		d.finishGenerationError(t, h, err)
		return
	}

	artifact := result.Artifact
	if artifact == nil {
		artifact = &inference.Artifact{
			Platform: string(target.Platform),
			Content:  result.Content,
			Snippets: extractSnippets(result.Content),
		}
	} else if artifact.Platform == "" {
		artifact.Platform = string(target.Platform)
	}

	d.complete(t, h, content, result, models.MessageTypeArtifact, artifact, intentResult.Intent)
}

// tokenFunc guards every incremental emit with the is-active check so tokens
// from a cancelled or superseded task never reach the client.
func (d *Dispatcher) tokenFunc(h *stream.Handle) inference.TokenFunc {
	return func(token string) {
		if !d.registry.IsActive(h.SessionID, h) {
			return
		}
		d.emitter.Emit(h.SessionID, models.StreamToken(h.SessionID, token))
		d.metrics.add(d.metrics.tokens, 1)
	}
}

// emit forwards an event only while the handle is still the active one.
func (d *Dispatcher) emit(h *stream.Handle, event models.StreamEvent) {
	if !d.registry.IsActive(h.SessionID, h) {
		return
	}
	d.emitter.Emit(h.SessionID, event)
}

// finishGenerationError resolves a failed provider call into either an
// interruption (the handle was cancelled) or a generation failure.
func (d *Dispatcher) finishGenerationError(t *task, h *stream.Handle, err error) {
	if h.Cancelled() {
		d.finishInterrupted(t, h)
		return
	}
	d.fail(t, h, models.CodeGenerationError, "generation failed", err)
}

// finishInterrupted resolves a cancelled task. Superseded tasks stay silent —
// the superseding task's own events are authoritative. User cancels and
// deadlines emit exactly one stream.interrupted.
func (d *Dispatcher) finishInterrupted(t *task, h *stream.Handle) {
	t.to(StateInterrupted)

	cause := context.Cause(h.Context())
	if errors.Is(cause, stream.ErrSuperseded) {
		d.metrics.add(d.metrics.superseded, 1)
		d.registry.End(h.SessionID, h)
		return
	}

	reason := stream.Reason(h.Context())
	if reason == "" {
		reason = "interrupted"
	}
	d.emitter.Emit(h.SessionID, models.StreamInterrupted(h.SessionID, reason))
	d.registry.End(h.SessionID, h)

	log.Info().Str("sessionId", h.SessionID).Str("reason", reason).Msg("Task interrupted")
}

// fail resolves a task into the Failed state with a stable error code.
// Nothing is persisted for the exchange.
func (d *Dispatcher) fail(t *task, h *stream.Handle, code, message string, err error) {
	t.to(StateFailed)
	d.metrics.add(d.metrics.failed, 1)

	log.Error().Err(err).
		Str("sessionId", h.SessionID).
		Str("code", code).
		Msg("Task failed")

	d.emit(h, models.StreamError(h.SessionID, code, message))
	d.registry.End(h.SessionID, h)
}
