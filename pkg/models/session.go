// Package models contains domain models for strand.
package models

import (
	"database/sql"
	"time"
)

// MessageType distinguishes plain chat exchanges from artifact-producing ones.
type MessageType string

const (
	MessageTypeChat     MessageType = "chat"
	MessageTypeArtifact MessageType = "artifact"
)

// Session represents one ongoing conversation. Sessions are created on first
// interaction with a piece of source content (or explicitly) and are never
// deleted by the orchestrator.
type Session struct {
	ID              string         `db:"id" json:"id"`
	UserID          string         `db:"user_id" json:"user_id"`
	SourceContentID sql.NullString `db:"source_content_id" json:"source_content_id,omitempty"`
	Summary         sql.NullString `db:"summary" json:"summary,omitempty"`
	LastIntent      sql.NullString `db:"last_intent" json:"last_intent,omitempty"`
	CreatedAt       string         `db:"created_at" json:"created_at"`
	CreatedAtEpoch  int64          `db:"created_at_epoch" json:"created_at_epoch"`
	UpdatedAtEpoch  int64          `db:"updated_at_epoch" json:"updated_at_epoch"`
}

// Message is one exchange unit: the user's text plus the generated response.
// Immutable once persisted; ordered by created_at_epoch, which is required to
// be monotonically non-decreasing per session.
type Message struct {
	ID             int64       `db:"id" json:"id"`
	SessionID      string      `db:"session_id" json:"session_id"`
	UserText       string      `db:"user_text" json:"user_text"`
	ResponseText   string      `db:"response_text" json:"response_text"`
	Type           MessageType `db:"message_type" json:"message_type"`
	CreatedAt      string      `db:"created_at" json:"created_at"`
	CreatedAtEpoch int64       `db:"created_at_epoch" json:"created_at_epoch"`
}

// Exchange is a single user/assistant pair as held by the memory cache.
type Exchange struct {
	UserText     string `json:"user_text"`
	ResponseText string `json:"response_text"`
	AtEpoch      int64  `json:"at_epoch"`
}

// SourceContent is the piece of content a session may be linked to. The
// orchestrator only reads it to build prompt context; its lifecycle belongs to
// the surrounding CRUD system.
type SourceContent struct {
	ID             string `db:"id" json:"id"`
	Title          string `db:"title" json:"title"`
	Summary        string `db:"summary" json:"summary"`
	Body           string `db:"body" json:"body"`
	CreatedAtEpoch int64  `db:"created_at_epoch" json:"created_at_epoch"`
}

// NewSession creates a session with timestamps set.
func NewSession(id, userID, sourceContentID string) *Session {
	now := time.Now()
	return &Session{
		ID:              id,
		UserID:          userID,
		SourceContentID: sql.NullString{String: sourceContentID, Valid: sourceContentID != ""},
		CreatedAt:       now.Format(time.RFC3339),
		CreatedAtEpoch:  now.UnixMilli(),
		UpdatedAtEpoch:  now.UnixMilli(),
	}
}
