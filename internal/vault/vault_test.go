package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runstreak/streakd/internal/domain"
)

var testConn = domain.Connection{
	ID:         "conn-1",
	UserID:     "user-1",
	Provider:   domain.ProviderSmashrun,
	SecretPath: "connections/smashrun/conn-1",
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestGetValidTokenReturnsLiveToken(t *testing.T) {
	now := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)
	secrets := newFakeSecrets()
	secrets.data[testConn.SecretPath] = domain.Credential{
		AccessToken:  "live-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(48 * time.Hour),
	}
	oauth := &fakeRefresher{}

	v := New(secrets, oauth, 24*time.Hour,
		WithClock(func() time.Time { return now }),
		WithLogger(quietLogger()))

	token, err := v.GetValidToken(context.Background(), testConn)
	require.NoError(t, err)
	require.Equal(t, "live-token", token)
	require.Zero(t, oauth.calls, "a token outside the buffer must not refresh")
}

func TestGetValidTokenRefreshesInsideBuffer(t *testing.T) {
	now := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)
	secrets := newFakeSecrets()
	secrets.data[testConn.SecretPath] = domain.Credential{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Hour),
	}
	oauth := &fakeRefresher{
		cred: domain.Credential{
			AccessToken:  "fresh-token",
			RefreshToken: "refresh-2",
			ExpiresAt:    now.Add(90 * 24 * time.Hour),
		},
	}

	v := New(secrets, oauth, 24*time.Hour,
		WithClock(func() time.Time { return now }),
		WithLogger(quietLogger()))

	token, err := v.GetValidToken(context.Background(), testConn)
	require.NoError(t, err)
	require.Equal(t, "fresh-token", token)
	require.Equal(t, 1, oauth.calls)
	require.Equal(t, "refresh-1", oauth.lastRefreshToken)

	// the rotated credential must be persisted, old refresh token gone
	stored := secrets.data[testConn.SecretPath]
	require.Equal(t, "refresh-2", stored.RefreshToken)
	require.Equal(t, "fresh-token", stored.AccessToken)

	// a second call inside the new expiry must not refresh again
	token, err = v.GetValidToken(context.Background(), testConn)
	require.NoError(t, err)
	require.Equal(t, "fresh-token", token)
	require.Equal(t, 1, oauth.calls)
}

func TestGetValidTokenMissingCredentialIsAuthError(t *testing.T) {
	v := New(newFakeSecrets(), &fakeRefresher{}, 24*time.Hour, WithLogger(quietLogger()))

	_, err := v.GetValidToken(context.Background(), testConn)
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestGetValidTokenEmptyCredentialIsAuthError(t *testing.T) {
	secrets := newFakeSecrets()
	secrets.data[testConn.SecretPath] = domain.Credential{}

	v := New(secrets, &fakeRefresher{}, 24*time.Hour, WithLogger(quietLogger()))

	_, err := v.GetValidToken(context.Background(), testConn)
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestGetValidTokenFailedPersistIsAuthError(t *testing.T) {
	now := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)
	secrets := newFakeSecrets()
	secrets.data[testConn.SecretPath] = domain.Credential{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    now,
	}
	secrets.putErr = errors.New("disk full")
	oauth := &fakeRefresher{
		cred: domain.Credential{AccessToken: "fresh", RefreshToken: "refresh-2", ExpiresAt: now.Add(time.Hour)},
	}

	v := New(secrets, oauth, 24*time.Hour,
		WithClock(func() time.Time { return now }),
		WithLogger(quietLogger()))

	_, err := v.GetValidToken(context.Background(), testConn)
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestStoreCreatesThenReplaces(t *testing.T) {
	secrets := newFakeSecrets()
	v := New(secrets, &fakeRefresher{}, 24*time.Hour, WithLogger(quietLogger()))

	first := domain.Credential{AccessToken: "a", RefreshToken: "r1"}
	require.NoError(t, v.Store(context.Background(), testConn, first))
	require.Equal(t, "a", secrets.data[testConn.SecretPath].AccessToken)

	second := domain.Credential{AccessToken: "b", RefreshToken: "r2"}
	require.NoError(t, v.Store(context.Background(), testConn, second))
	require.Equal(t, "b", secrets.data[testConn.SecretPath].AccessToken)
	require.Equal(t, 1, secrets.creates)
	require.Equal(t, 1, secrets.puts)
}

type fakeSecrets struct {
	data    map[string]domain.Credential
	putErr  error
	creates int
	puts    int
}

func newFakeSecrets() *fakeSecrets {
	return &fakeSecrets{data: make(map[string]domain.Credential)}
}

func (f *fakeSecrets) Get(_ context.Context, key string) (domain.Credential, error) {
	cred, ok := f.data[key]
	if !ok {
		return domain.Credential{}, fmt.Errorf("%w: secret %s", domain.ErrNotFound, key)
	}
	return cred, nil
}

func (f *fakeSecrets) Put(_ context.Context, key string, cred domain.Credential) error {
	if f.putErr != nil {
		return f.putErr
	}
	if _, ok := f.data[key]; !ok {
		return fmt.Errorf("%w: secret %s", domain.ErrNotFound, key)
	}
	f.puts++
	f.data[key] = cred
	return nil
}

func (f *fakeSecrets) Create(_ context.Context, key string, cred domain.Credential) error {
	if _, ok := f.data[key]; ok {
		return fmt.Errorf("%w: secret %s", ErrSecretExists, key)
	}
	f.creates++
	f.data[key] = cred
	return nil
}

type fakeRefresher struct {
	cred             domain.Credential
	err              error
	calls            int
	lastRefreshToken string
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (domain.Credential, error) {
	f.calls++
	f.lastRefreshToken = refreshToken
	if f.err != nil {
		return domain.Credential{}, f.err
	}
	return f.cred, nil
}
