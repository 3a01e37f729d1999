package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/photo-porter/internal/models"
	"gorm.io/gorm"
)

type TransferLogRepository struct {
	db *gorm.DB
}

func NewTransferLogRepository(db *gorm.DB) *TransferLogRepository {
	return &TransferLogRepository{db: db}
}

// Append adds one line to a transfer's trail
func (r *TransferLogRepository) Append(ctx context.Context, transferID, message string, details map[string]interface{}) error {
	entry := models.TransferLog{
		ID:         uuid.Must(uuid.NewV7()).String(),
		TransferID: transferID,
		Timestamp:  time.Now().UTC(),
		Message:    message,
		Details:    details,
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append transfer log: %w", err)
	}
	return nil
}

// ListByTransfer returns a transfer's trail, oldest first
func (r *TransferLogRepository) ListByTransfer(ctx context.Context, transferID string) ([]models.TransferLog, error) {
	var logs []models.TransferLog
	result := r.db.WithContext(ctx).
		Where("transfer_id = ?", transferID).
		Order("logged_at ASC").
		Order("id ASC").
		Find(&logs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list transfer logs: %w", result.Error)
	}
	return logs, nil
}
