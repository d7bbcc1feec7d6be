package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/runstreak/streakd/internal/domain"
	"github.com/runstreak/streakd/internal/vault"
)

const uniqueViolation = "23505"

// SecretStore keeps OAuth credential blobs in the credentials table. The
// blob column is JSONB, written whole so a refresh replaces the triple
// atomically.
type SecretStore struct {
	pool queryExecer
}

type queryExecer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewSecretStore constructs a SecretStore over the shared pool.
func NewSecretStore(pool queryExecer) *SecretStore {
	return &SecretStore{pool: pool}
}

// Get retrieves the credential at a path.
func (s *SecretStore) Get(ctx context.Context, path string) (domain.Credential, error) {
	const query = `SELECT blob FROM credentials WHERE secret_path = $1`

	var cred domain.Credential
	err := s.pool.QueryRow(ctx, query, path).Scan(&cred)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Credential{}, fmt.Errorf("%w: secret %s", domain.ErrNotFound, path)
	}
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: reading secret: %v", domain.ErrStorage, err)
	}
	return cred, nil
}

// Put replaces the credential at a path.
func (s *SecretStore) Put(ctx context.Context, path string, cred domain.Credential) error {
	const stmt = `UPDATE credentials SET blob = $2, updated_at = NOW() WHERE secret_path = $1`

	tag, err := s.pool.Exec(ctx, stmt, path, cred)
	if err != nil {
		return fmt.Errorf("%w: writing secret: %v", domain.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: secret %s", domain.ErrNotFound, path)
	}
	return nil
}

// Create stores a credential at a fresh path.
func (s *SecretStore) Create(ctx context.Context, path string, cred domain.Credential) error {
	const stmt = `INSERT INTO credentials (secret_path, blob) VALUES ($1, $2)`

	_, err := s.pool.Exec(ctx, stmt, path, cred)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: secret %s", vault.ErrSecretExists, path)
	}
	if err != nil {
		return fmt.Errorf("%w: creating secret: %v", domain.ErrStorage, err)
	}
	return nil
}
