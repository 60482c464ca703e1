package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"apitap/internal/credstore"
	"apitap/internal/skill"
	"apitap/pkg/logging"
)

const (
	tokenRetryAttempts = 3
	tokenRetryDelay    = 500 * time.Millisecond
)

// refreshOAuth runs the grant the skill file captured. Returns true
// when a fresh token was stored.
func (o *Orchestrator) refreshOAuth(ctx context.Context, domain string, cfg *skill.OAuthConfig) (bool, error) {
	if cfg.TokenEndpoint == "" {
		return false, nil
	}

	stored, err := o.creds.RetrieveOAuthCredentials(domain)
	if err != nil {
		return false, err
	}
	if stored == nil {
		stored = &credstore.OAuthCredentials{}
	}

	var token *oauth2.Token
	switch {
	case cfg.GrantType == "client_credentials" && stored.ClientSecret != "":
		token, err = o.clientCredentialsToken(ctx, cfg, stored.ClientSecret)
	case stored.RefreshToken != "":
		token, err = o.refreshTokenGrant(ctx, domain, cfg, stored)
	default:
		return false, nil
	}
	if err != nil {
		return false, err
	}

	auth := &credstore.Auth{
		Type:   "bearer",
		Header: "authorization",
		Value:  "Bearer " + token.AccessToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		auth.ExpiresAt = &expiry
	}
	if err := o.creds.Store(domain, auth); err != nil {
		return false, err
	}
	logging.Info("refresh", "Stored fresh OAuth token for %s", domain)
	return true, nil
}

// refreshTokenGrant exchanges the stored refresh token. Providers may
// rotate the refresh token on use, so a returned one always replaces
// the stored value.
func (o *Orchestrator) refreshTokenGrant(ctx context.Context, domain string, cfg *skill.OAuthConfig, stored *credstore.OAuthCredentials) (*oauth2.Token, error) {
	// Credentials go in the form body; auth-style auto-detection would
	// re-POST the grant on a 4xx to try the other placement.
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: stored.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if cfg.Scope != "" {
		conf.Scopes = []string{cfg.Scope}
	}

	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)

	token, err := retryToken(ctx, func() (*oauth2.Token, error) {
		source := conf.TokenSource(httpCtx, &oauth2.Token{RefreshToken: stored.RefreshToken})
		return source.Token()
	})
	if err != nil {
		return nil, fmt.Errorf("refresh_token grant against %s: %w", cfg.TokenEndpoint, err)
	}

	if token.RefreshToken != "" && token.RefreshToken != stored.RefreshToken {
		rotated := *stored
		rotated.RefreshToken = token.RefreshToken
		if err := o.creds.StoreOAuthCredentials(domain, &rotated); err != nil {
			return nil, err
		}
	}
	return token, nil
}

func (o *Orchestrator) clientCredentialsToken(ctx context.Context, cfg *skill.OAuthConfig, secret string) (*oauth2.Token, error) {
	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: secret,
		TokenURL:     cfg.TokenEndpoint,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if cfg.Scope != "" {
		conf.Scopes = []string{cfg.Scope}
	}

	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)

	token, err := retryToken(ctx, func() (*oauth2.Token, error) {
		return conf.Token(httpCtx)
	})
	if err != nil {
		return nil, fmt.Errorf("client_credentials grant against %s: %w", cfg.TokenEndpoint, err)
	}
	return token, nil
}

// retryToken retries transient token endpoint failures. A definitive
// OAuth error response (invalid_grant, invalid_client) will not change
// on retry and aborts immediately.
func retryToken(ctx context.Context, fetch func() (*oauth2.Token, error)) (*oauth2.Token, error) {
	retrier := retry.New(
		retry.Attempts(tokenRetryAttempts),
		retry.Delay(tokenRetryDelay),
		retry.OnRetry(func(attempt uint, err error) {
			logging.Debug("refresh", "Token request attempt %d failed: %v", attempt+1, err)
		}),
	)

	var token *oauth2.Token
	err := retrier.Do(func() error {
		if ctx.Err() != nil {
			return retry.Unrecoverable(ctx.Err())
		}
		var fetchErr error
		token, fetchErr = fetch()
		if fetchErr != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(fetchErr, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
				return retry.Unrecoverable(fetchErr)
			}
			return fetchErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}
