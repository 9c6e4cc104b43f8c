package pipeline

import "price-tracker/internal/domain"

// EventType discriminates batch refresh events.
type EventType string

const (
	// EventRowUpdated reports one article fetched and persisted.
	EventRowUpdated EventType = "row_updated"
	// EventRowFailed reports one article whose fetch failed. The batch
	// continues past it.
	EventRowFailed EventType = "row_failed"
	// EventProgress reports overall completion after each article.
	EventProgress EventType = "progress"
	// EventCompleted terminates the stream. Emitted exactly once, always
	// last; Error is set when the batch was aborted.
	EventCompleted EventType = "completed"
)

// Event is one message of a batch refresh stream. Events for article i are
// emitted after it is processed and before any event for article i+1.
type Event struct {
	Type     EventType        `json:"type"`
	Index    int              `json:"index"`
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
	Percent  int              `json:"percent"`
	Error    string           `json:"error,omitempty"`
}
