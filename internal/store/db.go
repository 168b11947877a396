// Package store persists transfer history and the chat log with gorm on
// sqlite.
package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Transfer struct {
	ID         uint   `gorm:"primaryKey"`
	TransferID string `gorm:"not null;uniqueIndex:idx_transfer_direction"`
	Direction  string `gorm:"not null;uniqueIndex:idx_transfer_direction"`
	FileName   string
	Size       int64
	Peer       string
	Path       string
	CreatedAt  int64 `gorm:"index"`
}

type ChatMessage struct {
	ID             uint `gorm:"primaryKey"`
	Content        string
	SenderNickname string
	Direction      string
	Peer           string
	SentAt         int64 `gorm:"index"`
}

// Open opens (creating if needed) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every pooled connection to ":memory:" would see its own database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Transfer{}, &ChatMessage{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
