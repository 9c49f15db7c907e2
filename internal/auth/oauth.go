package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"vramsply/internal/config"
)

// OAuthConfig builds the oauth2 client configuration for the platform.
func OAuthConfig(c config.OAuthConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID: c.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:       c.AuthURL,
			TokenURL:      c.TokenURL,
			DeviceAuthURL: c.DeviceAuthURL,
			AuthStyle:     oauth2.AuthStyleInParams,
		},
		Scopes: []string{"provider"},
	}
}

// OAuthRefresher exchanges refresh tokens at the platform token endpoint.
type OAuthRefresher struct {
	Config     *oauth2.Config
	HTTPClient *http.Client
}

func (r OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (Credentials, error) {
	if r.Config == nil {
		return Credentials{}, errors.New("oauth not configured")
	}
	ctx = withClient(ctx, r.HTTPClient)
	// An empty access token forces the source to refresh.
	tok, err := r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return Credentials{}, fmt.Errorf("token endpoint %s: %w", r.Config.Endpoint.TokenURL, err)
	}
	return fromOAuthToken(tok), nil
}

func withClient(ctx context.Context, c *http.Client) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c)
}

func fromOAuthToken(tok *oauth2.Token) Credentials {
	c := Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		c.ExpiresAt = tok.Expiry.Unix()
	} else if exp := jwtExpiry(tok.AccessToken); !exp.IsZero() {
		c.ExpiresAt = exp.Unix()
	}
	return c
}
