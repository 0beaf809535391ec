package accountpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// IdentityProvider exchanges a refresh token for a fresh access token. This
// gateway authenticates against an Antigravity-specific token endpoint
// rather than Google ADC, so it wraps a plain oauth2.Config instead of
// google.DefaultTokenSource.
type IdentityProvider interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// OAuth2IdentityProvider implements IdentityProvider over a standard OAuth2
// token endpoint using the refresh_token grant.
type OAuth2IdentityProvider struct {
	Config oauth2.Config
}

func (p *OAuth2IdentityProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := p.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// InvalidGrantError marks a refresh failure the provider reported as
// invalid_grant — the pool treats this as a signal to disable the account
// rather than retry.
type InvalidGrantError struct {
	Err error
}

func (e *InvalidGrantError) Error() string { return "invalid_grant: " + e.Err.Error() }
func (e *InvalidGrantError) Unwrap() error { return e.Err }

func IsInvalidGrant(err error) bool {
	var ig *InvalidGrantError
	return errors.As(err, &ig)
}

// refreshGroup deduplicates concurrent refresh calls for the same account
// so a burst of simultaneous requests against an expiring token triggers
// exactly one upstream token exchange.
var refreshGroup singleflight.Group

// refreshAccountLocked exchanges the account's refresh token for a new
// access token and updates its TokenBundle in place. Called with the pool
// mutex held, which stays held for the whole token exchange; singleflight
// only merges concurrent calls for the same account id.
func refreshAccountLocked(ctx context.Context, idp IdentityProvider, a *Account) error {
	v, err, _ := refreshGroup.Do(a.ID, func() (any, error) {
		tok, err := idp.Refresh(ctx, a.Tokens.RefreshToken)
		if err != nil {
			if isInvalidGrantResponse(err) {
				return nil, &InvalidGrantError{Err: err}
			}
			return nil, fmt.Errorf("refresh account %s: %w", a.ID, err)
		}
		return tok, nil
	})
	if err != nil {
		return err
	}
	tok := v.(*oauth2.Token)
	a.Tokens.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		a.Tokens.RefreshToken = tok.RefreshToken
	}
	if tok.Expiry.IsZero() {
		a.Tokens.Expiry = time.Now().Add(time.Hour)
	} else {
		a.Tokens.Expiry = tok.Expiry
	}
	return nil
}

// isInvalidGrantResponse inspects an oauth2.RetrieveError for the
// identity-provider's invalid_grant error code.
func isInvalidGrantResponse(err error) bool {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		return rErr.ErrorCode == "invalid_grant"
	}
	return false
}
