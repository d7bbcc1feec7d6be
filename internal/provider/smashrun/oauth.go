package smashrun

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/runstreak/streakd/internal/domain"
)

// Smashrun OAuth2 endpoints.
const (
	AuthorizationEndpoint = "https://secure.smashrun.com/oauth2/authenticate"
	TokenEndpoint         = "https://secure.smashrun.com/oauth2/token"

	// ScopeReadActivity is the only scope the engine requests.
	ScopeReadActivity = "read_activity"
)

// OAuthClient wraps golang.org/x/oauth2 for the Smashrun authorization-code
// flow and refresh-token grant.
type OAuthClient struct {
	conf *oauth2.Config
}

// NewOAuthClient constructs an OAuthClient for the registered application.
func NewOAuthClient(clientID, clientSecret, redirectURL string) *OAuthClient {
	return &OAuthClient{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{ScopeReadActivity},
			Endpoint: oauth2.Endpoint{
				AuthURL:  AuthorizationEndpoint,
				TokenURL: TokenEndpoint,
			},
		},
	}
}

// AuthCodeURL returns the URL to redirect the user to for authorization.
// state guards the callback against CSRF.
func (c *OAuthClient) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state)
}

// Exchange trades an authorization code for a credential.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (domain.Credential, error) {
	tok, err := c.conf.Exchange(ctx, code)
	if err != nil {
		return domain.Credential{}, grantError("code exchange", err)
	}
	return credentialFromToken(tok, ""), nil
}

// Refresh exchanges a refresh token for a fresh credential. Smashrun
// rotates the refresh token on every grant, so the returned credential must
// be persisted before the access token is used and the old refresh token
// must never be retried.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (domain.Credential, error) {
	if refreshToken == "" {
		return domain.Credential{}, fmt.Errorf("%w: no refresh token on record", domain.ErrAuth)
	}
	tok, err := c.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return domain.Credential{}, grantError("token refresh", err)
	}
	return credentialFromToken(tok, refreshToken), nil
}

func credentialFromToken(tok *oauth2.Token, previousRefresh string) domain.Credential {
	cred := domain.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.UTC(),
	}
	// Some grants omit the refresh token; keep the previous one in that case.
	if cred.RefreshToken == "" {
		cred.RefreshToken = previousRefresh
	}
	if tok.Expiry.IsZero() {
		cred.ExpiresAt = time.Now().UTC().Add(time.Hour)
	}
	return cred
}

// grantError classifies OAuth failures: a definitive rejection from the
// token endpoint is unrecoverable without user re-authorization, anything
// else (network, 5xx) is retryable.
func grantError(op string, err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		if retrieve.Response != nil && retrieve.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: %s: %v", domain.ErrTransient, op, err)
		}
		return fmt.Errorf("%w: %s rejected: %v", domain.ErrAuth, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrTransient, op, err)
}
