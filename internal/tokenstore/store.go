// Package tokenstore persists the device token across restarts. It is the
// installation's local cache of the provider-issued token, the analog of the
// browser's persistent storage: a single row that survives reloads and is
// cleared on logout.
package tokenstore

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/expensems/emspush/internal/errors"
)

// DeviceToken is the persisted token record. At most one row exists; writes
// replace it (last-writer-wins, the backend arbitrates the current token).
type DeviceToken struct {
	ID        uint   `gorm:"primarykey"`
	Token     string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store wraps the sqlite database holding the token
type Store struct {
	db *gorm.DB
}

// Open opens or creates the token database at path
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("tokenstore").
			Category(errors.CategorySystem).
			Context("path", path).
			Build()
	}

	if err := db.AutoMigrate(&DeviceToken{}); err != nil {
		return nil, errors.New(err).
			Component("tokenstore").
			Category(errors.CategorySystem).
			Context("operation", "migrate").
			Build()
	}

	return &Store{db: db}, nil
}

// Save replaces the persisted token
func (s *Store) Save(token string) error {
	if token == "" {
		return errors.Newf("token cannot be empty").
			Component("tokenstore").
			Category(errors.CategoryValidation).
			Build()
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&DeviceToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&DeviceToken{Token: token}).Error
	})
}

// Current returns the persisted token, or an empty string if none exists
func (s *Store) Current() (string, error) {
	var record DeviceToken
	err := s.db.Order("id desc").First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", errors.New(err).
			Component("tokenstore").
			Category(errors.CategorySystem).
			Build()
	}
	return record.Token, nil
}

// Clear removes the persisted token
func (s *Store) Clear() error {
	return s.db.Where("1 = 1").Delete(&DeviceToken{}).Error
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
