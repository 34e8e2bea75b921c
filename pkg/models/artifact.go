// Package models contains domain models for strand.
package models

import (
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// Platform tags a generated artifact with its target publishing surface.
type Platform string

const (
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformGeneric   Platform = "generic"
)

// GeneratedArtifact is a platform-tagged piece of generated content tied to a
// session. At most one artifact per (session, platform) pair is retained —
// later generations replace the earlier one.
type GeneratedArtifact struct {
	ID               int64           `db:"id" json:"id"`
	SessionID        string          `db:"session_id" json:"session_id"`
	SourceContentID  sql.NullString  `db:"source_content_id" json:"source_content_id,omitempty"`
	Platform         Platform        `db:"platform" json:"platform"`
	Content          string          `db:"content" json:"content"`
	Snippets         JSONStringArray `db:"snippets" json:"snippets,omitempty"`
	VisualIdeas      JSONStringArray `db:"visual_ideas" json:"visual_ideas,omitempty"`
	CreatedAt        string          `db:"created_at" json:"created_at"`
	CreatedAtEpoch   int64           `db:"created_at_epoch" json:"created_at_epoch"`
	PublishedAtEpoch sql.NullInt64   `db:"published_at_epoch" json:"published_at_epoch,omitempty"`
}

// ArtifactPayload is the wire shape of an artifact inside stream.end events.
type ArtifactPayload struct {
	Platform    Platform `json:"platform"`
	Content     string   `json:"content"`
	Snippets    []string `json:"snippets,omitempty"`
	VisualIdeas []string `json:"visualIdeas,omitempty"`
}

// JSONStringArray stores a string slice as a JSON TEXT column.
type JSONStringArray []string

// Value implements driver.Valuer.
func (a JSONStringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (a *JSONStringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for JSONStringArray: %T", value)
	}
	if len(data) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(a))
}
