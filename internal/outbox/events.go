package outbox

import "time"

// Event types recorded by the store and delivered by the dispatcher.
const (
	EventTypeSyncCompleted    = "sync.completed"
	EventTypeConnectionLinked = "connection.linked"
)

// TopicSyncEvents carries both event types; consumers partition work by
// user so one user's snapshot rebuilds stay ordered.
const TopicSyncEvents = "sync_events"

// SyncCompleted is emitted after a connection's batch commits its
// watermark.
type SyncCompleted struct {
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	RunsSynced   int       `json:"runs_synced"`
	WatermarkAt  time.Time `json:"watermark_at"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// ConnectionLinked is emitted when a user authorizes a new provider
// connection.
type ConnectionLinked struct {
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	Provider     string    `json:"provider"`
	OccurredAt   time.Time `json:"occurred_at"`
}
