package models

import "time"

// Account is an authenticated identity on the photo service, keyed by email.
type Account struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Email     string    `gorm:"column:email;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Account) TableName() string {
	return "account"
}

// Credential holds the OAuth token material for one account.
// An account may own several rows; the newest by issued_at is current.
type Credential struct {
	ID           string    `gorm:"column:id;primaryKey"`
	AccountID    string    `gorm:"column:account_id;index"`
	AccessToken  string    `gorm:"column:access_token"`
	RefreshToken *string   `gorm:"column:refresh_token"`
	TokenType    string    `gorm:"column:token_type"`
	ExpiresIn    int       `gorm:"column:expires_in"` // seconds
	IssuedAt     time.Time `gorm:"column:issued_at"`
	Scope        *string   `gorm:"column:scope"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Credential) TableName() string {
	return "credential"
}

// ExpiresAt returns issued_at + expires_in.
func (c *Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(time.Duration(c.ExpiresIn) * time.Second)
}

// IsStale reports whether the access token is within margin of expiry at now.
// A credential without a lifetime or issue time is always stale.
func (c *Credential) IsStale(now time.Time, margin time.Duration) bool {
	if c.ExpiresIn <= 0 || c.IssuedAt.IsZero() {
		return true
	}
	return !now.Before(c.ExpiresAt().Add(-margin))
}
