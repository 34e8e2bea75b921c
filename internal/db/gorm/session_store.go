// Package gorm provides GORM-based database operations for strand.
package gorm

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thebtf/strand/pkg/models"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore provides session-related database operations.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{db: store.DB}
}

// CreateSession creates a new session for a user, optionally linked to a
// piece of source content.
func (s *SessionStore) CreateSession(ctx context.Context, userID, sourceContentID string) (*models.Session, error) {
	sess := models.NewSession(uuid.NewString(), userID, sourceContentID)
	row := &Session{
		ID:              sess.ID,
		UserID:          sess.UserID,
		SourceContentID: sess.SourceContentID,
		CreatedAt:       sess.CreatedAt,
		CreatedAtEpoch:  sess.CreatedAtEpoch,
		UpdatedAtEpoch:  sess.UpdatedAtEpoch,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession retrieves a session by id. Returns ErrSessionNotFound when the
// id is unknown.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var row Session
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelSession(&row), nil
}

// UpdateSessionSummary updates the rolling summary for a session.
func (s *SessionStore) UpdateSessionSummary(ctx context.Context, id, summary string) error {
	return s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"summary":          summary,
			"updated_at_epoch": time.Now().UnixMilli(),
		}).Error
}

// UpdateLastIntent records the most recent classified intent for a session.
func (s *SessionStore) UpdateLastIntent(ctx context.Context, id string, intent models.Intent) error {
	return s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_intent":      string(intent),
			"updated_at_epoch": time.Now().UnixMilli(),
		}).Error
}

// GetSourceContent retrieves a source content row by id. Returns (nil, nil)
// when the id is unknown — a dangling link degrades to an empty context, it
// is not an orchestration error.
func (s *SessionStore) GetSourceContent(ctx context.Context, id string) (*models.SourceContent, error) {
	var row SourceContent
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.SourceContent{
		ID:             row.ID,
		Title:          row.Title,
		Summary:        row.Summary,
		Body:           row.Body,
		CreatedAtEpoch: row.CreatedAtEpoch,
	}, nil
}

func toModelSession(row *Session) *models.Session {
	return &models.Session{
		ID:              row.ID,
		UserID:          row.UserID,
		SourceContentID: row.SourceContentID,
		Summary:         row.Summary,
		LastIntent:      row.LastIntent,
		CreatedAt:       row.CreatedAt,
		CreatedAtEpoch:  row.CreatedAtEpoch,
		UpdatedAtEpoch:  row.UpdatedAtEpoch,
	}
}
