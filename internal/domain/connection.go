package domain

import "time"

// ProviderSmashrun is the only provider currently wired in. The connection
// model carries the provider type so further trackers can be added without
// schema changes.
const ProviderSmashrun = "smashrun"

// Sync status values recorded on a connection after each run.
const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// User is an account holder. Created on the first successful OAuth
// handshake with any provider and never mutated by sync logic.
type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// Connection links one user to one external activity provider. The
// credential blob itself lives in the secret store; the connection holds
// only the opaque path to it.
type Connection struct {
	ID               string
	UserID           string
	Provider         string
	ProviderUserID   string
	ProviderUsername string
	SecretPath       string
	IsActive         bool
	LastSyncAt       *time.Time // sync watermark; nil until the first successful sync
	LastSyncStatus   string
	CreatedAt        time.Time
}

// Credential is the OAuth token triple owned by the token vault. Stored as
// one blob so refreshes replace it atomically; a superseded refresh token
// must never be reused because providers rotate it on every grant.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Empty reports whether the credential holds no usable token at all. A sync
// hitting an empty credential is an auth failure, not a refresh candidate.
func (c Credential) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}
