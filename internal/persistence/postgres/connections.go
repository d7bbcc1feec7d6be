package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/runstreak/streakd/internal/domain"
	"github.com/runstreak/streakd/internal/outbox"
)

const connectionColumns = `connection_id, user_id, provider, provider_user_id, provider_username,
        secret_path, is_active, last_sync_at, last_sync_status, created_at`

// ActiveConnections lists every active connection for a provider, oldest
// watermark first so the connections most behind sync first.
func (s *Store) ActiveConnections(ctx context.Context, provider string) ([]domain.Connection, error) {
	const query = `SELECT ` + connectionColumns + ` FROM connections
        WHERE provider = $1 AND is_active
        ORDER BY last_sync_at ASC NULLS FIRST`

	rows, err := s.pool.Query(ctx, query, provider)
	if err != nil {
		return nil, fmt.Errorf("%w: querying active connections: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	conns := make([]domain.Connection, 0)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning connection: %v", domain.ErrStorage, err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading connections: %v", domain.ErrStorage, err)
	}
	return conns, nil
}

// ConnectionByID retrieves a connection by primary key.
func (s *Store) ConnectionByID(ctx context.Context, connectionID string) (*domain.Connection, error) {
	const query = `SELECT ` + connectionColumns + ` FROM connections WHERE connection_id = $1`
	return s.queryConnection(ctx, query, connectionID)
}

// ConnectionForUser retrieves a user's connection to one provider.
func (s *Store) ConnectionForUser(ctx context.Context, userID, provider string) (*domain.Connection, error) {
	const query = `SELECT ` + connectionColumns + ` FROM connections
        WHERE user_id = $1 AND provider = $2`
	return s.queryConnection(ctx, query, userID, provider)
}

// EnsureUserWithConnection resolves the provider account to an existing
// connection or creates the user and connection together. The
// connection.linked outbox row rides the same transaction so a crash
// cannot lose the event.
func (s *Store) EnsureUserWithConnection(ctx context.Context, provider, providerUserID, providerUsername, displayName string) (domain.Connection, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Connection{}, false, fmt.Errorf("%w: beginning transaction: %v", domain.ErrStorage, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const findQuery = `SELECT ` + connectionColumns + ` FROM connections
        WHERE provider = $1 AND provider_user_id = $2
        FOR UPDATE`

	existing, err := scanConnection(tx.QueryRow(ctx, findQuery, provider, providerUserID))
	if err == nil {
		if cerr := tx.Commit(ctx); cerr != nil {
			return domain.Connection{}, false, fmt.Errorf("%w: committing lookup: %v", domain.ErrStorage, cerr)
		}
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Connection{}, false, fmt.Errorf("%w: finding connection: %v", domain.ErrStorage, err)
	}
	err = nil

	userID := uuid.NewString()
	connectionID := uuid.NewString()
	secretPath := fmt.Sprintf("connections/%s/%s", provider, connectionID)

	if _, err = tx.Exec(ctx,
		`INSERT INTO users (user_id, display_name) VALUES ($1, $2)`,
		userID, displayName,
	); err != nil {
		return domain.Connection{}, false, fmt.Errorf("%w: creating user: %v", domain.ErrStorage, err)
	}

	const insertConn = `INSERT INTO connections (connection_id, user_id, provider, provider_user_id, provider_username, secret_path)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING ` + connectionColumns

	conn, err := scanConnection(tx.QueryRow(ctx, insertConn,
		connectionID, userID, provider, providerUserID, providerUsername, secretPath))
	if err != nil {
		return domain.Connection{}, false, fmt.Errorf("%w: creating connection: %v", domain.ErrStorage, err)
	}

	if err = insertOutbox(ctx, tx, outbox.EventTypeConnectionLinked, userID, outbox.ConnectionLinked{
		UserID:       userID,
		ConnectionID: connectionID,
		Provider:     provider,
		OccurredAt:   time.Now().UTC(),
	}); err != nil {
		return domain.Connection{}, false, fmt.Errorf("%w: recording link event: %v", domain.ErrStorage, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.Connection{}, false, fmt.Errorf("%w: committing connection: %v", domain.ErrStorage, err)
	}
	return conn, true, nil
}

// CommitWatermark advances the connection's sync watermark and records
// the sync.completed event in the same transaction. GREATEST keeps the
// watermark monotonic even if a stale worker commits out of order.
func (s *Store) CommitWatermark(ctx context.Context, connectionID string, until time.Time, runsSynced int) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", domain.ErrStorage, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `UPDATE connections
        SET last_sync_at = GREATEST(COALESCE(last_sync_at, 'epoch'::timestamptz), $2),
            last_sync_status = $3
        WHERE connection_id = $1
        RETURNING user_id, last_sync_at`

	var (
		userID    string
		watermark time.Time
	)
	err = tx.QueryRow(ctx, stmt, connectionID, until, domain.SyncStatusSuccess).Scan(&userID, &watermark)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		tx.Rollback(ctx)
		return fmt.Errorf("%w: connection %s", domain.ErrNotFound, connectionID)
	}
	if err != nil {
		return fmt.Errorf("%w: advancing watermark: %v", domain.ErrStorage, err)
	}

	if err = insertOutbox(ctx, tx, outbox.EventTypeSyncCompleted, userID, outbox.SyncCompleted{
		UserID:       userID,
		ConnectionID: connectionID,
		RunsSynced:   runsSynced,
		WatermarkAt:  watermark,
		OccurredAt:   time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("%w: recording sync event: %v", domain.ErrStorage, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing watermark: %v", domain.ErrStorage, err)
	}
	watermarkGauge.WithLabelValues(connectionID).Set(float64(watermark.Unix()))
	return nil
}

// MarkSyncFailed records a failed sync outcome without touching the
// watermark.
func (s *Store) MarkSyncFailed(ctx context.Context, connectionID string, reason string) error {
	const stmt = `UPDATE connections
        SET last_sync_status = $2, last_sync_error = $3
        WHERE connection_id = $1`

	tag, err := s.pool.Exec(ctx, stmt, connectionID, domain.SyncStatusFailed, reason)
	if err != nil {
		return fmt.Errorf("%w: marking sync failed: %v", domain.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: connection %s", domain.ErrNotFound, connectionID)
	}
	return nil
}

// DeactivateConnection removes a connection from future sync passes.
// History stays in place; only the link is retired.
func (s *Store) DeactivateConnection(ctx context.Context, connectionID string) error {
	const stmt = `UPDATE connections SET is_active = FALSE WHERE connection_id = $1`

	tag, err := s.pool.Exec(ctx, stmt, connectionID)
	if err != nil {
		return fmt.Errorf("%w: deactivating connection: %v", domain.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: connection %s", domain.ErrNotFound, connectionID)
	}
	return nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, eventType, userID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (event_type, topic, partition_key, payload)
        VALUES ($1,$2,$3,$4)`

	_, err = tx.Exec(ctx, stmt, eventType, outbox.TopicSyncEvents, userID, body)
	return err
}

func (s *Store) queryConnection(ctx context.Context, query string, args ...any) (*domain.Connection, error) {
	conn, err := scanConnection(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: connection", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying connection: %v", domain.ErrStorage, err)
	}
	return &conn, nil
}

func scanConnection(row rowScanner) (domain.Connection, error) {
	var conn domain.Connection
	err := row.Scan(
		&conn.ID,
		&conn.UserID,
		&conn.Provider,
		&conn.ProviderUserID,
		&conn.ProviderUsername,
		&conn.SecretPath,
		&conn.IsActive,
		&conn.LastSyncAt,
		&conn.LastSyncStatus,
		&conn.CreatedAt,
	)
	return conn, err
}
