package models

import (
	"fmt"
	"time"
)

type TransferStatus string

const (
	StatusPending    TransferStatus = "PENDING"
	StatusInProgress TransferStatus = "IN_PROGRESS"
	StatusSuccess    TransferStatus = "SUCCESS"
	StatusFailed     TransferStatus = "FAILED"
)

// transitions lists every legal edge. FAILED -> IN_PROGRESS is the retry edge.
var transitions = map[TransferStatus][]TransferStatus{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusSuccess, StatusFailed},
	StatusFailed:     {StatusInProgress},
}

// ParseTransferStatus converts a stored or user supplied value into a TransferStatus.
func ParseTransferStatus(s string) (TransferStatus, error) {
	switch st := TransferStatus(s); st {
	case StatusPending, StatusInProgress, StatusSuccess, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown transfer status %q", s)
}

// IsTerminal reports whether s is SUCCESS or FAILED
func (s TransferStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is a legal edge.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TransferStatus) String() string {
	return string(s)
}

// TransferRecord is one item's move from a source to a target account,
// created by the synchronous orchestrator.
type TransferRecord struct {
	ID              string         `gorm:"column:id;primaryKey"`
	SourceAccountID string         `gorm:"column:source_account_id;index"`
	TargetAccountID string         `gorm:"column:target_account_id;index"`
	ItemID          string         `gorm:"column:item_id"`
	FileName        *string        `gorm:"column:file_name"`
	RemoteItemID    *string        `gorm:"column:remote_item_id"`
	Status          TransferStatus `gorm:"column:status;index"`
	Attempts        int            `gorm:"column:attempts"`
	StartedAt       time.Time      `gorm:"column:started_at;index"`
	CompletedAt     *time.Time     `gorm:"column:completed_at"`
	ErrorMessage    *string        `gorm:"column:error_message"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (TransferRecord) TableName() string {
	return "transfer_record"
}

// Transfer is the consumer-side record for one queued message.
// MessageID lets a redelivered message find the row it already created.
type Transfer struct {
	ID              string         `gorm:"column:id;primaryKey"`
	MessageID       string         `gorm:"column:message_id;uniqueIndex"`
	SourceAccountID string         `gorm:"column:source_account_id;index"`
	TargetAccountID string         `gorm:"column:target_account_id;index"`
	ItemID          string         `gorm:"column:item_id"`
	FileName        *string        `gorm:"column:file_name"`
	RemoteItemID    *string        `gorm:"column:remote_item_id"`
	Status          TransferStatus `gorm:"column:status;index"`
	StartedAt       time.Time      `gorm:"column:started_at"`
	CompletedAt     *time.Time     `gorm:"column:completed_at"`
	ErrorMessage    *string        `gorm:"column:error_message"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Transfer) TableName() string {
	return "transfer"
}
