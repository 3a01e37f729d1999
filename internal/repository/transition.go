package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/photo-porter/internal/models"
	"gorm.io/gorm"
)

var (
	ErrTransferNotFound  = errors.New("transfer not found")
	ErrStatusConflict    = errors.New("transfer status changed concurrently")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// TransitionFields are optional columns written together with a status change.
type TransitionFields struct {
	ErrorMessage      *string
	RemoteItemID      *string
	FileName          *string
	IncrementAttempts bool
}

// transition moves one row from -> to, but only while its status still equals from.
// Entering a terminal status stamps completed_at; entering IN_PROGRESS clears it
// together with the error. If the row already holds the terminal status being
// written the call is a no-op.
func transition(ctx context.Context, db *gorm.DB, model interface{}, id string, from, to models.TransferStatus, fields TransitionFields) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	if to.IsTerminal() {
		updates["completed_at"] = now
		updates["error_message"] = fields.ErrorMessage
	} else {
		updates["completed_at"] = nil
		updates["error_message"] = nil
	}
	if fields.RemoteItemID != nil {
		updates["remote_item_id"] = *fields.RemoteItemID
	}
	if fields.FileName != nil {
		updates["file_name"] = *fields.FileName
	}
	if fields.IncrementAttempts {
		updates["attempts"] = gorm.Expr("attempts + 1")
	}

	result := db.WithContext(ctx).Model(model).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update transfer status: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var statuses []string
	if err := db.WithContext(ctx).Model(model).Where("id = ?", id).Limit(1).Pluck("status", &statuses).Error; err != nil {
		return fmt.Errorf("failed to read transfer status: %w", err)
	}
	if len(statuses) == 0 {
		return ErrTransferNotFound
	}

	current := models.TransferStatus(statuses[0])
	if to.IsTerminal() && current == to {
		return nil
	}
	return fmt.Errorf("%w: %s is %s, expected %s", ErrStatusConflict, id, current, from)
}
