package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/vipul43/photo-porter/internal/metrics"
	"github.com/vipul43/photo-porter/internal/models"
	"github.com/vipul43/photo-porter/internal/photos"
)

// RefreshMargin is how long before expiry a token is already treated as stale
const RefreshMargin = 5 * time.Minute

// CredentialStore interface for dependency injection
type CredentialStore interface {
	GetCurrent(ctx context.Context, accountID string) (*models.Credential, error)
	Create(ctx context.Context, cred *models.Credential) error
	UpdateTokens(ctx context.Context, credentialID, accessToken, tokenType string, refreshToken *string, expiresIn int, issuedAt time.Time) error
}

// TokenSource exchanges a refresh token for a new access token
type TokenSource interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*photos.TokenRefreshResult, error)
}

// TokenRefresher is the single gate through which access tokens are read.
type TokenRefresher struct {
	creds   CredentialStore
	source  TokenSource
	metrics *metrics.Metrics
	now     func() time.Time
	group   singleflight.Group
}

func NewTokenRefresher(creds CredentialStore, source TokenSource, m *metrics.Metrics) *TokenRefresher {
	return &TokenRefresher{
		creds:   creds,
		source:  source,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type refreshedToken struct {
	accessToken  string
	tokenType    string
	refreshToken *string
	expiresIn    int
	issuedAt     time.Time
}

// EnsureFresh returns a usable access token for the account. A fresh credential
// is returned as is; a stale one is refreshed and persisted first, and cred is
// updated in place.
func (r *TokenRefresher) EnsureFresh(ctx context.Context, account *models.Account, cred *models.Credential) (string, error) {
	if !cred.IsStale(r.now(), RefreshMargin) {
		return cred.AccessToken, nil
	}

	log.Infof("Access token stale for %s, refreshing...", account.Email)

	v, err, shared := r.group.Do(cred.ID, func() (interface{}, error) {
		return r.refresh(ctx, account, cred)
	})
	if err != nil {
		return "", err
	}

	tok := v.(*refreshedToken)
	cred.AccessToken = tok.accessToken
	if tok.tokenType != "" {
		cred.TokenType = tok.tokenType
	}
	cred.ExpiresIn = tok.expiresIn
	cred.IssuedAt = tok.issuedAt
	if tok.refreshToken != nil {
		cred.RefreshToken = tok.refreshToken
	}
	if shared {
		log.Debugf("Reused concurrent token refresh for %s", account.Email)
	}
	return tok.accessToken, nil
}

func (r *TokenRefresher) refresh(ctx context.Context, account *models.Account, cred *models.Credential) (*refreshedToken, error) {
	if cred.RefreshToken == nil || *cred.RefreshToken == "" {
		r.metrics.RecordTokenRefresh("revoked")
		return nil, &CredentialRefreshError{Email: account.Email, Permanent: true, Err: photos.ErrNoRefreshToken}
	}

	result, err := r.source.RefreshAccessToken(ctx, *cred.RefreshToken)
	if err != nil {
		permanent := errors.Is(err, photos.ErrInvalidGrant)
		if permanent {
			r.metrics.RecordTokenRefresh("revoked")
		} else {
			r.metrics.RecordTokenRefresh("failure")
		}
		return nil, &CredentialRefreshError{Email: account.Email, Permanent: permanent, Err: err}
	}

	tok := &refreshedToken{
		accessToken: result.AccessToken,
		tokenType:   result.TokenType,
		expiresIn:   result.ExpiresIn,
		issuedAt:    r.now(),
	}
	if result.RefreshToken != "" {
		rotated := result.RefreshToken
		tok.refreshToken = &rotated
	}

	if err := r.creds.UpdateTokens(ctx, cred.ID, tok.accessToken, tok.tokenType, tok.refreshToken, tok.expiresIn, tok.issuedAt); err != nil {
		r.metrics.RecordTokenRefresh("failure")
		return nil, &CredentialRefreshError{Email: account.Email, Err: fmt.Errorf("failed to persist refreshed token: %w", err)}
	}

	r.metrics.RecordTokenRefresh("success")
	log.Infof("Token refreshed for %s, expires in %ds", account.Email, tok.expiresIn)
	return tok, nil
}
