package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/photo-porter/internal/models"
	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("account not found")

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByID retrieves account by ID
func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	result := r.db.WithContext(ctx).First(&account, "id = ?", accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

// GetByEmail retrieves account by email, case-insensitively
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	result := r.db.WithContext(ctx).First(&account, "email = ?", normalizeEmail(email))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by email: %w", result.Error)
	}
	return &account, nil
}

// FindOrCreate returns the account for email, creating it on first authentication
func (r *AccountRepository) FindOrCreate(ctx context.Context, email string) (*models.Account, error) {
	now := time.Now().UTC()
	var account models.Account
	result := r.db.WithContext(ctx).
		Where(models.Account{Email: normalizeEmail(email)}).
		Attrs(models.Account{ID: uuid.New().String(), CreatedAt: now, UpdatedAt: now}).
		FirstOrCreate(&account)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find or create account: %w", result.Error)
	}
	return &account, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
