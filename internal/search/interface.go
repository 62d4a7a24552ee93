package search

import "github.com/pders01/neows/internal/storage"

// Searcher defines the minimal search API used by the CLI and HTTP API.
type Searcher interface {
	Search(query string, limit int) ([]*Result, error)
}

// UpdateListener is notified with each freshly loaded day. Implementations
// replace whatever they hold for that date.
type UpdateListener interface {
	OnDataUpdated(date string, resp *storage.FeedResponse)
}

// DebugStatser provides lightweight stats for visibility/debugging.
// Implemented by engines that can report index doc counts, etc.
type DebugStatser interface {
	DocCount() (int, error)
}

// Index is a Searcher that can be fed by the loader.
type Index interface {
	Searcher
	UpdateListener
	DebugStatser
	Close() error
}
