package worker

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"

	gormdb "github.com/thebtf/strand/internal/db/gorm"
	"github.com/thebtf/strand/pkg/models"
)

const maxMessageBytes = 64 * 1024

// setupRoutes configures the HTTP surface.
func (s *Service) setupRoutes() {
	meter := otel.Meter("github.com/thebtf/strand/internal/worker")
	requests, err := meter.Int64Counter("strand.gateway.requests")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to register gateway request counter")
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger(requests))

	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/messages", s.handleSendMessage)
			r.Post("/interrupt", s.handleInterrupt)
			r.Get("/events", s.handleEvents)
		})
	})
}

// requestLogger logs each request with zerolog and counts it.
func requestLogger(requests metric.Int64Counter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if requests != nil {
				requests.Add(r.Context(), 1,
					metric.WithAttributes(
						attribute.String("method", r.Method),
						attribute.Int("status", ww.Status()),
					))
			}

			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("Request")
		})
	}
}

// authMiddleware requires a bearer key matching one of the configured bcrypt
// hashes. With no hashes configured the gateway is open (local development).
func (s *Service) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.APIKeyHashes) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if key == "" || key == r.Header.Get("Authorization") {
			writeError(w, http.StatusUnauthorized, models.CodeValidationError, "missing bearer key")
			return
		}

		for _, hash := range s.config.APIKeyHashes {
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, models.CodeValidationError, "invalid bearer key")
	})
}

type createSessionRequest struct {
	UserID          string `json:"userId"`
	SourceContentID string `json:"sourceContentId,omitempty"`
}

func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidationError, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, models.CodeValidationError, "userId is required")
		return
	}

	stores, _, _ := s.pipeline()
	session, err := stores.CreateSession(r.Context(), req.UserID, req.SourceContentID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create session")
		writeError(w, http.StatusInternalServerError, models.CodePersistenceError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

type sendMessageRequest struct {
	Content string `json:"content"`
	ConnID  string `json:"connId,omitempty"`
}

// handleSendMessage accepts a message for asynchronous processing. The 202
// acknowledges acceptance only; the outcome arrives on the event stream.
func (s *Service) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidationError, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, models.CodeValidationError, "content is required")
		return
	}
	if len(req.Content) > maxMessageBytes {
		writeError(w, http.StatusBadRequest, models.CodeValidationError, "content exceeds maximum length")
		return
	}

	stores, _, dispatcher := s.pipeline()
	session, err := stores.GetSession(r.Context(), sessionID)
	if errors.Is(err, gormdb.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, models.CodeSessionNotFound, "unknown session")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to load session")
		writeError(w, http.StatusInternalServerError, models.CodePersistenceError, "failed to load session")
		return
	}

	go dispatcher.HandleMessage(sessionID, session.UserID, req.ConnID, req.Content)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"sessionId": sessionID,
	})
}

type interruptRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Service) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req interruptRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, models.CodeValidationError, err.Error())
		return
	}

	_, _, dispatcher := s.pipeline()
	interrupted := dispatcher.Interrupt(sessionID, req.Reason)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId":   sessionID,
		"interrupted": interrupted,
	})
}

// handleEvents subscribes the caller to a session's event stream. Blocks for
// the lifetime of the connection.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	stores, _, _ := s.pipeline()
	if _, err := stores.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, gormdb.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, models.CodeSessionNotFound, "unknown session")
			return
		}
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to load session")
		writeError(w, http.StatusInternalServerError, models.CodePersistenceError, "failed to load session")
		return
	}

	s.hub.Serve(w, r, sessionID)
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	_, cache, _ := s.pipeline()

	status := http.StatusOK
	state := "ok"
	if !s.ready.Load() {
		status = http.StatusServiceUnavailable
		state = "unready"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":         state,
		"version":        s.version,
		"uptimeSeconds":  int64(time.Since(s.startTime).Seconds()),
		"activeStreams":  s.registry.ActiveCount(),
		"cachedSessions": cache.Len(),
		"sseClients":     s.hub.ClientCount(),
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes+4096))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"errorCode": code,
		"message":   message,
	})
}
