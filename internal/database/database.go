package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB couples the gorm handle used by repositories with the underlying pool.
type DB struct {
	*gorm.DB
	sqlDB *sql.DB
}

// Connect opens a PostgreSQL connection pool
func Connect(databaseURL string) (*DB, error) {
	gormDB, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return Wrap(gormDB)
}

// Wrap builds a DB from an already opened gorm handle.
func Wrap(gormDB *gorm.DB) (*DB, error) {
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: gormDB, sqlDB: sqlDB}, nil
}

// SQL returns the underlying *sql.DB
func (d *DB) SQL() *sql.DB {
	return d.sqlDB
}

// PingContext checks that the database is reachable
func (d *DB) PingContext(ctx context.Context) error {
	return d.sqlDB.PingContext(ctx)
}

// Close closes the connection pool
func (d *DB) Close() error {
	return d.sqlDB.Close()
}
