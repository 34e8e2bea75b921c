// Package gorm provides GORM-based database operations for strand.
package gorm

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/strand/pkg/models"
)

// ArtifactStore provides generated-artifact database operations.
type ArtifactStore struct {
	db *gorm.DB
}

// NewArtifactStore creates a new artifact store.
func NewArtifactStore(store *Store) *ArtifactStore {
	return &ArtifactStore{db: store.DB}
}

// UpsertArtifact stores an artifact keyed by (session_id, platform). A second
// generation for the same pair replaces the first row's content in place —
// never a duplicate row.
func (s *ArtifactStore) UpsertArtifact(ctx context.Context, sessionID string, platform models.Platform, content string, snippets, visualIdeas []string) (*models.GeneratedArtifact, error) {
	now := time.Now()
	row := &GeneratedArtifact{
		SessionID:      sessionID,
		Platform:       platform,
		Content:        content,
		Snippets:       models.JSONStringArray(snippets),
		VisualIdeas:    models.JSONStringArray(visualIdeas),
		CreatedAt:      now.Format(time.RFC3339),
		CreatedAtEpoch: now.UnixMilli(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"content", "snippets", "visual_ideas", "created_at", "created_at_epoch",
		}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	// Re-read so the caller gets the stable row id after a conflict update.
	var stored GeneratedArtifact
	err = s.db.WithContext(ctx).
		Where("session_id = ? AND platform = ?", sessionID, platform).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return toModelArtifact(&stored), nil
}

// ListArtifacts returns all artifacts for a session, most-recent-first.
func (s *ArtifactStore) ListArtifacts(ctx context.Context, sessionID string) ([]models.GeneratedArtifact, error) {
	var rows []GeneratedArtifact
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at_epoch DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	artifacts := make([]models.GeneratedArtifact, 0, len(rows))
	for i := range rows {
		artifacts = append(artifacts, *toModelArtifact(&rows[i]))
	}
	return artifacts, nil
}

// MarkPublished records the publish timestamp for an artifact.
func (s *ArtifactStore) MarkPublished(ctx context.Context, sessionID string, platform models.Platform) error {
	return s.db.WithContext(ctx).Model(&GeneratedArtifact{}).
		Where("session_id = ? AND platform = ?", sessionID, platform).
		Update("published_at_epoch", time.Now().UnixMilli()).Error
}

func toModelArtifact(row *GeneratedArtifact) *models.GeneratedArtifact {
	return &models.GeneratedArtifact{
		ID:               row.ID,
		SessionID:        row.SessionID,
		SourceContentID:  row.SourceContentID,
		Platform:         row.Platform,
		Content:          row.Content,
		Snippets:         row.Snippets,
		VisualIdeas:      row.VisualIdeas,
		CreatedAt:        row.CreatedAt,
		CreatedAtEpoch:   row.CreatedAtEpoch,
		PublishedAtEpoch: row.PublishedAtEpoch,
	}
}
