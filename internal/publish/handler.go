package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"

	"github.com/runstreak/streakd/internal/consumer"
	"github.com/runstreak/streakd/internal/outbox"
	"github.com/runstreak/streakd/internal/stats"
)

// StatusHandler rebuilds and publishes a user's status snapshot whenever
// one of their syncs completes. The snapshot is a cache of stored runs,
// so replaying a sync.completed event is harmless.
type StatusHandler struct {
	engine     *stats.Engine
	uploader   Uploader
	objectName string
	logger     *log.Logger
}

// NewStatusHandler constructs a StatusHandler. objectName is the file
// name under each user's prefix, typically "status.json".
func NewStatusHandler(engine *stats.Engine, uploader Uploader, objectName string, logger *log.Logger) *StatusHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[publish] ", log.LstdFlags)
	}
	return &StatusHandler{
		engine:     engine,
		uploader:   uploader,
		objectName: objectName,
		logger:     logger,
	}
}

// Handle processes one consumed event. Events other than sync.completed
// are acknowledged without work.
func (h *StatusHandler) Handle(ctx context.Context, msg consumer.Message) error {
	if msg.EventType != outbox.EventTypeSyncCompleted {
		return nil
	}

	var event outbox.SyncCompleted
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decoding sync.completed payload: %w", err)
	}
	if event.UserID == "" {
		return fmt.Errorf("sync.completed event missing user_id")
	}

	snapshot, err := h.engine.Snapshot(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("building snapshot for user %s: %w", event.UserID, err)
	}

	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	objectPath := path.Join("users", event.UserID, h.objectName)
	if err := h.uploader.Upload(ctx, objectPath, body); err != nil {
		return err
	}

	h.logger.Printf("published snapshot for user %s (%d runs synced)", event.UserID, event.RunsSynced)
	snapshotsPublished.Inc()
	return nil
}
