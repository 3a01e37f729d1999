package service

import (
	"errors"
	"fmt"

	"github.com/vipul43/photo-porter/internal/repository"
)

var (
	ErrAccountNotFound         = errors.New("account not found")
	ErrCredentialNotFound      = errors.New("no credential stored for account")
	ErrCredentialRefreshFailed = errors.New("credential refresh failed")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrItemTransferFailed      = errors.New("item transfer failed")
	ErrTransferNotFound        = errors.New("transfer not found")
	ErrInvalidState            = errors.New("transfer is not in a retryable state")
)

// CredentialRefreshError reports a failed token refresh for one account.
// Permanent is set when the grant was revoked and the user must re-authenticate.
type CredentialRefreshError struct {
	Email     string
	Permanent bool
	Err       error
}

func (e *CredentialRefreshError) Error() string {
	return fmt.Sprintf("failed to refresh credential for %s: %v", e.Email, e.Err)
}

func (e *CredentialRefreshError) Unwrap() error { return e.Err }

func (e *CredentialRefreshError) Is(target error) bool {
	return target == ErrCredentialRefreshFailed
}

// ValidationError names the request field that failed validation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// ItemTransferError is the failure of one item at one stage. It is recorded on
// the item's record and never aborts a batch.
type ItemTransferError struct {
	ItemID string
	Stage  string
	Err    error
}

func (e *ItemTransferError) Error() string {
	return fmt.Sprintf("%s failed for item %s: %v", e.Stage, e.ItemID, e.Err)
}

func (e *ItemTransferError) Unwrap() error { return e.Err }

func (e *ItemTransferError) Is(target error) bool {
	return target == ErrItemTransferFailed
}

// translate maps repository sentinels onto the service taxonomy
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, repository.ErrCredentialNotFound):
		return ErrCredentialNotFound
	case errors.Is(err, repository.ErrTransferNotFound):
		return ErrTransferNotFound
	case errors.Is(err, repository.ErrStatusConflict), errors.Is(err, repository.ErrIllegalTransition):
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return err
}
