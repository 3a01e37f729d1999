package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB stores a JSON object column (jsonb on PostgreSQL, text elsewhere)
type JSONB map[string]interface{}

// Value implements driver.Valuer for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSONB
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return errors.New("JSONB: unsupported column type")
	}
}

// TransferLog is one line of a transfer record's stage trail.
type TransferLog struct {
	ID         string    `gorm:"column:id;primaryKey"`
	TransferID string    `gorm:"column:transfer_id;index"`
	Timestamp  time.Time `gorm:"column:logged_at"`
	Message    string    `gorm:"column:message"`
	Details    JSONB     `gorm:"column:details;type:jsonb"`
}

// TableName specifies the table name for GORM
func (TransferLog) TableName() string {
	return "transfer_log"
}
