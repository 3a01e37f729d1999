package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransferMessage is the queue payload for one item. It is a snapshot taken at
// enqueue time: Data holds the already downloaded bytes and TargetAccessToken the
// token that was valid then.
type TransferMessage struct {
	ItemID            string    `json:"itemId"`
	FileName          string    `json:"fileName"`
	Data              []byte    `json:"data"`
	SourceAccountID   string    `json:"sourceAccountId"`
	TargetAccountID   string    `json:"targetAccountId"`
	TargetAccessToken string    `json:"targetAccessToken"`
	EnqueuedAt        time.Time `json:"enqueuedAt"`
}

// Encode serializes the message for the wire
func (m *TransferMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeTransferMessage parses and validates a wire payload.
func DecodeTransferMessage(payload []byte) (*TransferMessage, error) {
	var m TransferMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("failed to decode transfer message: %w", err)
	}
	if m.ItemID == "" || m.TargetAccountID == "" || m.SourceAccountID == "" {
		return nil, fmt.Errorf("transfer message missing item or account id")
	}
	if len(m.Data) == 0 {
		return nil, fmt.Errorf("transfer message %s has no data", m.ItemID)
	}
	return &m, nil
}

// QueueMessage is a row of the database-backed queue.
type QueueMessage struct {
	ID             int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Topic          string     `gorm:"column:topic;index"`
	Key            string     `gorm:"column:partition_key;index"`
	Payload        []byte     `gorm:"column:payload"`
	Attempts       int        `gorm:"column:attempts"`
	LeaseOwner     *string    `gorm:"column:lease_owner"`
	LeaseExpiresAt *time.Time `gorm:"column:lease_expires_at"`
	AckedAt        *time.Time `gorm:"column:acked_at"`
	DeadAt         *time.Time `gorm:"column:dead_at"`
	LastError      *string    `gorm:"column:last_error"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (QueueMessage) TableName() string {
	return "queue_message"
}
