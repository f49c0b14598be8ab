package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Action is one handled cross-instance action. Origin is the publishing
// instance (empty for legacy messages), Instance the one that applied it.
type Action struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"size:32;index;not null" json:"kind"`
	Target    string    `gorm:"size:128" json:"target"`
	Origin    string    `gorm:"size:128" json:"origin"`
	Instance  string    `gorm:"size:128;index" json:"instance"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Action) TableName() string {
	return "cluster_actions"
}

// Store persists batches of actions.
type Store interface {
	InsertBatch(ctx context.Context, batch []Action) error
	Close() error
}

// GormStore writes actions to Postgres through gorm.
type GormStore struct {
	db *gorm.DB
}

// OpenGormStore connects to dsn and migrates the actions table.
func OpenGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return store, nil
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Action{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cluster_actions: %w", err)
	}
	return &GormStore{db: db}, nil
}

// InsertBatch inserts the whole batch in one transaction.
func (s *GormStore) InsertBatch(ctx context.Context, batch []Action) error {
	if len(batch) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(batch, len(batch)).Error; err != nil {
		return fmt.Errorf("failed to insert %d actions: %w", len(batch), err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
