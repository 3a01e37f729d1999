package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/photo-porter/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransferRepository stores the records written by queue consumers
type TransferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// GetOrCreate inserts t unless a row for the same message already exists.
// It returns the stored row and whether this call created it.
func (r *TransferRepository) GetOrCreate(ctx context.Context, t *models.Transfer) (*models.Transfer, bool, error) {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.StatusInProgress
	}
	t.StartedAt = now
	t.UpdatedAt = now

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Create(t)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create transfer: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return t, true, nil
	}

	existing, err := r.GetByMessageID(ctx, t.MessageID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID retrieves a consumer transfer by ID
func (r *TransferRepository) GetByID(ctx context.Context, id string) (*models.Transfer, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByMessageID retrieves the transfer created for a queue message
func (r *TransferRepository) GetByMessageID(ctx context.Context, messageID string) (*models.Transfer, error) {
	return r.first(ctx, "message_id = ?", messageID)
}

func (r *TransferRepository) first(ctx context.Context, query string, arg interface{}) (*models.Transfer, error) {
	var t models.Transfer
	result := r.db.WithContext(ctx).First(&t, query, arg)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", result.Error)
	}
	return &t, nil
}

// ListForAccount returns consumer transfers involving the account, newest first
func (r *TransferRepository) ListForAccount(ctx context.Context, accountID string) ([]models.Transfer, error) {
	var transfers []models.Transfer
	result := r.db.WithContext(ctx).
		Where("source_account_id = ? OR target_account_id = ?", accountID, accountID).
		Order("started_at DESC").
		Order("id ASC").
		Find(&transfers)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", result.Error)
	}
	return transfers, nil
}

// GetStuckInProgress retrieves consumer transfers left IN_PROGRESS since before cutoff
func (r *TransferRepository) GetStuckInProgress(ctx context.Context, cutoff time.Time, limit int) ([]models.Transfer, error) {
	var transfers []models.Transfer
	result := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StatusInProgress, cutoff.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&transfers)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query stuck transfers: %w", result.Error)
	}
	return transfers, nil
}

// MarkFailed moves an IN_PROGRESS consumer transfer to FAILED
func (r *TransferRepository) MarkFailed(ctx context.Context, id, errMsg string) error {
	return r.Transition(ctx, id, models.StatusInProgress, models.StatusFailed, TransitionFields{
		ErrorMessage: &errMsg,
	})
}

// Transition performs a conditional status change, see transition.
func (r *TransferRepository) Transition(ctx context.Context, id string, from, to models.TransferStatus, fields TransitionFields) error {
	return transition(ctx, r.db, &models.Transfer{}, id, from, to, fields)
}
