// Package gorm provides GORM-based database operations for strand.
package gorm

// Stores bundles the per-table stores behind one value. The memory cache and
// the dispatcher consume it through their own narrow interfaces.
type Stores struct {
	*SessionStore
	*MessageStore
	*ArtifactStore
}

// NewStores creates the store bundle for a database connection.
func NewStores(store *Store) *Stores {
	return &Stores{
		SessionStore:  NewSessionStore(store),
		MessageStore:  NewMessageStore(store),
		ArtifactStore: NewArtifactStore(store),
	}
}
