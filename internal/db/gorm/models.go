// Package gorm provides GORM-based database operations for strand.
package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/strand/pkg/models"
)

// GORM models. JSON column types (JSONStringArray) come from pkg/models and
// implement sql.Scanner and driver.Valuer.

// Session represents one conversation thread.
type Session struct {
	ID              string `gorm:"primaryKey"`
	UserID          string `gorm:"index;not null"`
	SourceContentID sql.NullString
	Summary         sql.NullString `gorm:"type:text"`
	LastIntent      sql.NullString
	CreatedAt       string `gorm:"not null"`
	CreatedAtEpoch  int64  `gorm:"index:idx_sessions_created,sort:desc;not null"`
	UpdatedAtEpoch  int64  `gorm:"not null"`
}

func (Session) TableName() string { return "sessions" }

// BeforeCreate hook to ensure timestamps are set.
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAtEpoch == 0 {
		s.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if s.CreatedAt == "" {
		s.CreatedAt = time.Now().Format(time.RFC3339)
	}
	if s.UpdatedAtEpoch == 0 {
		s.UpdatedAtEpoch = s.CreatedAtEpoch
	}
	return nil
}

// Message is one persisted exchange. created_at_epoch is clamped on save so
// ordering per session is monotonically non-decreasing.
type Message struct {
	ID             int64              `gorm:"primaryKey;autoIncrement"`
	SessionID      string             `gorm:"index:idx_messages_session;not null"`
	UserText       string             `gorm:"type:text;not null"`
	ResponseText   string             `gorm:"type:text;not null"`
	MessageType    models.MessageType `gorm:"type:text;check:message_type IN ('chat', 'artifact');default:'chat';not null"`
	CreatedAt      string             `gorm:"not null"`
	CreatedAtEpoch int64              `gorm:"index:idx_messages_created,sort:desc;not null"`
}

func (Message) TableName() string { return "messages" }

// BeforeCreate hook to ensure timestamps are set.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedAtEpoch == 0 {
		m.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if m.CreatedAt == "" {
		m.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// GeneratedArtifact is a platform-tagged piece of generated content. The
// unique index on (session_id, platform) backs the upsert semantics: a second
// generation for the same pair replaces the first.
type GeneratedArtifact struct {
	ID               int64           `gorm:"primaryKey;autoIncrement"`
	SessionID        string          `gorm:"uniqueIndex:idx_artifacts_session_platform,priority:1;not null"`
	Platform         models.Platform `gorm:"type:text;uniqueIndex:idx_artifacts_session_platform,priority:2;not null"`
	SourceContentID  sql.NullString
	Content          string                 `gorm:"type:text;not null"`
	Snippets         models.JSONStringArray `gorm:"type:text"`
	VisualIdeas      models.JSONStringArray `gorm:"type:text"`
	CreatedAt        string                 `gorm:"not null"`
	CreatedAtEpoch   int64                  `gorm:"not null"`
	PublishedAtEpoch sql.NullInt64
}

func (GeneratedArtifact) TableName() string { return "generated_artifacts" }

// BeforeCreate hook to ensure timestamps are set.
func (a *GeneratedArtifact) BeforeCreate(tx *gorm.DB) error {
	if a.CreatedAtEpoch == 0 {
		a.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if a.CreatedAt == "" {
		a.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// SourceContent is read-only from the orchestrator's point of view; the
// surrounding CRUD system owns its lifecycle.
type SourceContent struct {
	ID             string `gorm:"primaryKey"`
	Title          string `gorm:"type:text"`
	Summary        string `gorm:"type:text"`
	Body           string `gorm:"type:text"`
	CreatedAtEpoch int64  `gorm:"not null"`
}

func (SourceContent) TableName() string { return "source_contents" }
