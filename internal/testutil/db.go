// Package testutil provides an in-memory database with the service schema for tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vipul43/photo-porter/internal/models"
)

// NewDB opens a private in-memory SQLite database and migrates every model.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Account{},
		&models.Credential{},
		&models.TransferRecord{},
		&models.Transfer{},
		&models.TransferLog{},
		&models.QueueMessage{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// one connection serializes writers, which SQLite needs under concurrent tests
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}

// SeedAccount creates an account with a credential issued at issuedAt.
func SeedAccount(t testing.TB, db *gorm.DB, email string, issuedAt time.Time, expiresIn int) (*models.Account, *models.Credential) {
	t.Helper()

	now := time.Now().UTC()
	account := &models.Account{ID: uuid.New().String(), Email: email, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}

	refresh := "refresh-" + email
	cred := &models.Credential{
		ID:           uuid.New().String(),
		AccountID:    account.ID,
		AccessToken:  "access-" + email,
		RefreshToken: &refresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		IssuedAt:     issuedAt.UTC(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.Create(cred).Error; err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}
	return account, cred
}
