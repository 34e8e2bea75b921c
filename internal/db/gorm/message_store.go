// Package gorm provides GORM-based database operations for strand.
package gorm

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/strand/pkg/models"
)

// MessageStore provides message-related database operations.
type MessageStore struct {
	db *gorm.DB
}

// NewMessageStore creates a new message store.
func NewMessageStore(store *Store) *MessageStore {
	return &MessageStore{db: store.DB}
}

// SaveMessage persists one completed exchange. The created_at_epoch is
// clamped to the session's latest message so per-session ordering stays
// monotonically non-decreasing even across clock adjustments.
func (s *MessageStore) SaveMessage(ctx context.Context, sessionID, userText, responseText string, messageType models.MessageType) (*models.Message, error) {
	now := time.Now()
	row := &Message{
		SessionID:      sessionID,
		UserText:       userText,
		ResponseText:   responseText,
		MessageType:    messageType,
		CreatedAt:      now.Format(time.RFC3339),
		CreatedAtEpoch: now.UnixMilli(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest int64
		err := tx.Model(&Message{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(created_at_epoch), 0)").
			Scan(&latest).Error
		if err != nil {
			return err
		}
		if row.CreatedAtEpoch < latest {
			row.CreatedAtEpoch = latest
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	return toModelMessage(row), nil
}

// LoadRecentMessages returns the most recent messages for a session,
// most-recent-first.
func (s *MessageStore) LoadRecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []Message
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at_epoch DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, *toModelMessage(&rows[i]))
	}
	return messages, nil
}

func toModelMessage(row *Message) *models.Message {
	return &models.Message{
		ID:             row.ID,
		SessionID:      row.SessionID,
		UserText:       row.UserText,
		ResponseText:   row.ResponseText,
		Type:           row.MessageType,
		CreatedAt:      row.CreatedAt,
		CreatedAtEpoch: row.CreatedAtEpoch,
	}
}
