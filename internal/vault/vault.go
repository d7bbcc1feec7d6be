// Package vault owns OAuth credential storage and refresh for provider
// connections. Credentials never leave the vault except as a live access
// token value.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/runstreak/streakd/internal/domain"
)

// ErrSecretExists is returned by SecretStore.Create when the key is taken.
var ErrSecretExists = errors.New("secret already exists")

// SecretStore is the collaborator that persists credential blobs, keyed by
// the connection's opaque secret path. Get returns domain.ErrNotFound for a
// missing key, Create returns ErrSecretExists for a taken one. Put must
// replace the whole blob in one write.
type SecretStore interface {
	Get(ctx context.Context, key string) (domain.Credential, error)
	Put(ctx context.Context, key string, cred domain.Credential) error
	Create(ctx context.Context, key string, cred domain.Credential) error
}

// Refresher exchanges a refresh token for a new credential.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.Credential, error)
}

// Vault manages per-connection credentials with proactive refresh.
type Vault struct {
	secrets SecretStore
	oauth   Refresher
	buffer  time.Duration
	now     func() time.Time
	logger  *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures optional behaviour for the Vault.
type Option func(*Vault)

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// WithLogger overrides the vault logger.
func WithLogger(logger *log.Logger) Option {
	return func(v *Vault) { v.logger = logger }
}

// New constructs a Vault. buffer is the lead time before expiry at which a
// refresh is forced; it absorbs clock skew and keeps a token from expiring
// mid-request.
func New(secrets SecretStore, oauth Refresher, buffer time.Duration, opts ...Option) *Vault {
	v := &Vault{
		secrets: secrets,
		oauth:   oauth,
		buffer:  buffer,
		now:     time.Now,
		logger:  log.New(log.Writer(), "[vault] ", log.LstdFlags),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// GetValidToken returns a live access token for the connection, refreshing
// the stored credential first when it is inside the expiry buffer.
//
// Refreshes are serialized per connection: Smashrun rotates the refresh
// token on every grant, so two concurrent refreshes would leave one caller
// holding a refresh token the provider has already invalidated.
func (v *Vault) GetValidToken(ctx context.Context, conn domain.Connection) (string, error) {
	lock := v.connLock(conn.ID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := v.secrets.Get(ctx, conn.SecretPath)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: no credential stored for connection %s", domain.ErrAuth, conn.ID)
		}
		return "", fmt.Errorf("reading credential for connection %s: %w", conn.ID, err)
	}
	if cred.Empty() {
		return "", fmt.Errorf("%w: empty credential for connection %s", domain.ErrAuth, conn.ID)
	}

	if v.now().Add(v.buffer).Before(cred.ExpiresAt) {
		return cred.AccessToken, nil
	}

	v.logger.Printf("credential for connection %s expires %s, refreshing", conn.ID, cred.ExpiresAt.Format(time.RFC3339))

	fresh, err := v.oauth.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refreshing connection %s: %w", conn.ID, err)
	}

	if err := v.secrets.Put(ctx, conn.SecretPath, fresh); err != nil {
		// The provider has already rotated the refresh token; losing the
		// write means the stored credential is dead. Surface as auth so the
		// connection is flagged for re-authorization instead of being
		// retried against a revoked token.
		return "", fmt.Errorf("%w: persisting refreshed credential for connection %s: %v", domain.ErrAuth, conn.ID, err)
	}

	return fresh.AccessToken, nil
}

// Store persists a credential for the connection, creating the secret on
// first authorization and replacing it thereafter.
func (v *Vault) Store(ctx context.Context, conn domain.Connection, cred domain.Credential) error {
	lock := v.connLock(conn.ID)
	lock.Lock()
	defer lock.Unlock()

	err := v.secrets.Create(ctx, conn.SecretPath, cred)
	if errors.Is(err, ErrSecretExists) {
		return v.secrets.Put(ctx, conn.SecretPath, cred)
	}
	return err
}

func (v *Vault) connLock(connectionID string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.locks[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		v.locks[connectionID] = lock
	}
	return lock
}
