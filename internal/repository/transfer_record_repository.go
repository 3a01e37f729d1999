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

type TransferRecordRepository struct {
	db *gorm.DB
}

func NewTransferRecordRepository(db *gorm.DB) *TransferRecordRepository {
	return &TransferRecordRepository{db: db}
}

// Create persists a new record. started_at is set here and never changes.
func (r *TransferRecordRepository) Create(ctx context.Context, rec *models.TransferRecord) error {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	if rec.Attempts == 0 {
		rec.Attempts = 1
	}
	rec.StartedAt = now
	rec.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create transfer record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by ID
func (r *TransferRecordRepository) GetByID(ctx context.Context, id string) (*models.TransferRecord, error) {
	var rec models.TransferRecord
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer record: %w", result.Error)
	}
	return &rec, nil
}

// ListForAccount returns every record where the account is source or target,
// newest first. Equal start times are ordered by id so the result is stable.
func (r *TransferRecordRepository) ListForAccount(ctx context.Context, accountID string) ([]models.TransferRecord, error) {
	var records []models.TransferRecord
	result := r.db.WithContext(ctx).
		Where("source_account_id = ? OR target_account_id = ?", accountID, accountID).
		Order("started_at DESC").
		Order("id ASC").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list transfer records: %w", result.Error)
	}
	return records, nil
}

// Transition performs a conditional status change, see transition.
func (r *TransferRecordRepository) Transition(ctx context.Context, id string, from, to models.TransferStatus, fields TransitionFields) error {
	return transition(ctx, r.db, &models.TransferRecord{}, id, from, to, fields)
}

// MarkSucceeded moves an IN_PROGRESS record to SUCCESS
func (r *TransferRecordRepository) MarkSucceeded(ctx context.Context, id string, fileName, remoteItemID string) error {
	return r.Transition(ctx, id, models.StatusInProgress, models.StatusSuccess, TransitionFields{
		FileName:     optional(fileName),
		RemoteItemID: optional(remoteItemID),
	})
}

// MarkFailed moves an IN_PROGRESS record to FAILED with the error message
func (r *TransferRecordRepository) MarkFailed(ctx context.Context, id string, fileName, errMsg string) error {
	return r.Transition(ctx, id, models.StatusInProgress, models.StatusFailed, TransitionFields{
		FileName:     optional(fileName),
		ErrorMessage: &errMsg,
	})
}

// ResetForRetry moves a FAILED record back to IN_PROGRESS, clearing the error
// and completed_at and counting the attempt.
func (r *TransferRecordRepository) ResetForRetry(ctx context.Context, id string) error {
	return r.Transition(ctx, id, models.StatusFailed, models.StatusInProgress, TransitionFields{
		IncrementAttempts: true,
	})
}

// GetStuckInProgress retrieves records left IN_PROGRESS since before cutoff
func (r *TransferRecordRepository) GetStuckInProgress(ctx context.Context, cutoff time.Time, limit int) ([]models.TransferRecord, error) {
	var records []models.TransferRecord
	result := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StatusInProgress, cutoff.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query stuck transfer records: %w", result.Error)
	}
	return records, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
