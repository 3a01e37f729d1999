package photos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// Scopes requested at consent time
var Scopes = []string{
	"https://www.googleapis.com/auth/photoslibrary.readonly",
	"https://www.googleapis.com/auth/photoslibrary.appendonly",
	"https://www.googleapis.com/auth/userinfo.email",
}

// defaultTokenLifetime is assumed when the token endpoint omits expires_in
const defaultTokenLifetime = 3600

var (
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrInvalidGrant   = errors.New("refresh token revoked or expired")
)

func newOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}
}

// AuthCodeURL builds the consent screen URL. Offline access with forced consent
// makes Google return a refresh token every time.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and resolves the account email
func (c *Client) Exchange(ctx context.Context, code string) (*IssuedCredential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	opts := []option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}
	if c.userinfoURL != "" {
		opts = append(opts, option.WithEndpoint(c.userinfoURL))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	if info.Email == "" {
		return nil, fmt.Errorf("userinfo returned no email")
	}

	scope, _ := token.Extra("scope").(string)
	return &IssuedCredential{
		Email:        strings.ToLower(info.Email),
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		ExpiresIn:    lifetime(token.Expiry),
		Scope:        scope,
	}, nil
}

// RefreshAccessToken refreshes the OAuth2 access token
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token := &oauth2.Token{
		RefreshToken: refreshToken,
	}

	// Refresh the token
	newToken, err := c.oauth.TokenSource(ctx, token).Token()
	if err != nil {
		if isInvalidGrant(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := &TokenRefreshResult{
		AccessToken: newToken.AccessToken,
		TokenType:   newToken.Type(),
		ExpiresIn:   lifetime(newToken.Expiry),
	}

	// Check if refresh token was rotated
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		result.RefreshToken = newToken.RefreshToken
	}

	log.Debugf("Token refreshed successfully, expires in %ds", result.ExpiresIn)

	return result, nil
}

func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client" {
		return true
	}
	return strings.Contains(string(re.Body), "invalid_grant")
}

func lifetime(expiry time.Time) int {
	if expiry.IsZero() {
		return defaultTokenLifetime
	}
	secs := int(time.Until(expiry).Seconds())
	// an already expired lifetime would mark the credential stale forever
	if secs <= 0 {
		return defaultTokenLifetime
	}
	return secs
}
