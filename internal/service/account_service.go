package service

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vipul43/photo-porter/internal/models"
	"github.com/vipul43/photo-porter/internal/photos"
)

// CodeExchanger completes the OAuth authorization-code flow
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (*photos.IssuedCredential, error)
}

// AuthStatus answers whether an email has a usable credential
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email"`
	AccountID     string `json:"accountId,omitempty"`
	TokenValid    bool   `json:"tokenValid"`
}

type AccountService struct {
	accounts  AccountStore
	creds     CredentialStore
	exchanger CodeExchanger
	refresher *TokenRefresher
	now       func() time.Time
}

func NewAccountService(accounts AccountStore, creds CredentialStore, exchanger CodeExchanger, refresher *TokenRefresher) *AccountService {
	return &AccountService{
		accounts:  accounts,
		creds:     creds,
		exchanger: exchanger,
		refresher: refresher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CompleteLogin exchanges an authorization code and stores the issued credential
func (s *AccountService) CompleteLogin(ctx context.Context, code string) (*models.Account, error) {
	if code == "" {
		return nil, &ValidationError{Field: "code", Reason: "must not be empty"}
	}

	issued, err := s.exchanger.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to complete login: %w", err)
	}
	return s.Register(ctx, issued)
}

// Register creates the account on first authentication and stores a new
// current credential for it.
func (s *AccountService) Register(ctx context.Context, issued *photos.IssuedCredential) (*models.Account, error) {
	if !validEmail(issued.Email) {
		return nil, &ValidationError{Field: "email", Reason: "must be a valid email address"}
	}

	account, err := s.accounts.FindOrCreate(ctx, issued.Email)
	if err != nil {
		return nil, err
	}

	cred := &models.Credential{
		AccountID:   account.ID,
		AccessToken: issued.AccessToken,
		TokenType:   issued.TokenType,
		ExpiresIn:   issued.ExpiresIn,
		IssuedAt:    s.now(),
	}
	if issued.RefreshToken != "" {
		refresh := issued.RefreshToken
		cred.RefreshToken = &refresh
	} else if prev, err := s.creds.GetCurrent(ctx, account.ID); err == nil && prev.RefreshToken != nil {
		// Google omits the refresh token on repeat consent; keep the stored one
		cred.RefreshToken = prev.RefreshToken
	}
	if issued.Scope != "" {
		scope := issued.Scope
		cred.Scope = &scope
	}

	if err := s.creds.Create(ctx, cred); err != nil {
		return nil, err
	}

	log.Infof("Stored credential for account %s (%s)", account.ID, account.Email)
	return account, nil
}

// Status reports the authentication state of an email. Lookup errors read as
// not authenticated.
func (s *AccountService) Status(ctx context.Context, email string) AuthStatus {
	status := AuthStatus{Email: email}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return status
	}
	status.AccountID = account.ID

	cred, err := s.creds.GetCurrent(ctx, account.ID)
	if err != nil {
		return status
	}
	status.Authenticated = true
	status.TokenValid = !cred.IsStale(s.now(), RefreshMargin)
	return status
}

// AccessToken returns a fresh access token for the account with this email
func (s *AccountService) AccessToken(ctx context.Context, email string) (string, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return "", translate(err)
	}
	cred, err := s.creds.GetCurrent(ctx, account.ID)
	if err != nil {
		return "", translate(err)
	}
	return s.refresher.EnsureFresh(ctx, account, cred)
}
