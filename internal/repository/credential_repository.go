package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/photo-porter/internal/models"
	"gorm.io/gorm"
)

var ErrCredentialNotFound = errors.New("credential not found")

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetCurrent returns the newest credential of an account
func (r *CredentialRepository) GetCurrent(ctx context.Context, accountID string) (*models.Credential, error) {
	var cred models.Credential
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("issued_at DESC").
		First(&cred)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", result.Error)
	}
	return &cred, nil
}

// Create stores a newly issued credential
func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	now := time.Now().UTC()
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = now
	}
	cred.CreatedAt = now
	cred.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(cred).Error; err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// UpdateTokens replaces access token, token type, lifetime and issue time in one
// statement. A nil refreshToken or an empty tokenType keeps the stored value.
func (r *CredentialRepository) UpdateTokens(ctx context.Context, credentialID, accessToken, tokenType string, refreshToken *string, expiresIn int, issuedAt time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"expires_in":   expiresIn,
		"issued_at":    issuedAt,
		"updated_at":   time.Now().UTC(),
	}
	if tokenType != "" {
		updates["token_type"] = tokenType
	}
	if refreshToken != nil {
		updates["refresh_token"] = *refreshToken
	}

	result := r.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ?", credentialID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}
