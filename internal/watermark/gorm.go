package watermark

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
)

// IntegrationState is the SQL row for one watermark.
type IntegrationState struct {
	IntegrationID string `gorm:"primaryKey;size:128"`
	ActionID      string `gorm:"primaryKey;size:128"`
	State         []byte `gorm:"not null"`
	UpdatedAt     time.Time
}

// GormStore keeps state in SQLite or MySQL.
type GormStore struct {
	db      *gorm.DB
	backend string
}

// NewGormStore opens the database and migrates the state table.
func NewGormStore(ctx context.Context, backend, dsn string, log logger.Logger, slowThreshold time.Duration) (*GormStore, error) {
	var dialector gorm.Dialector
	switch backend {
	case conf.BackendSQLite:
		if dir := filepath.Dir(dsn); dir != "." && dsn != ":memory:" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, storeError(err, backend, "create-directory", "", "")
			}
		}
		dialector = sqlite.Open(dsn)
	case conf.BackendMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Newf("unsupported SQL backend %q", backend).
			Category(errors.CategoryConfiguration).
			Component("watermark").
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowThreshold),
	})
	if err != nil {
		return nil, storeError(err, backend, "open", "", "")
	}

	if backend == conf.BackendSQLite {
		// SQLite allows a single writer.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := db.WithContext(ctx).AutoMigrate(&IntegrationState{}); err != nil {
		return nil, storeError(err, backend, "migrate", "", "")
	}

	return &GormStore{db: db, backend: backend}, nil
}

func (s *GormStore) Get(ctx context.Context, integrationID, actionID string) ([]byte, bool, error) {
	var row IntegrationState
	err := s.db.WithContext(ctx).
		Where("integration_id = ? AND action_id = ?", integrationID, actionID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError(err, s.backend, "get", integrationID, actionID)
	}
	return row.State, true, nil
}

func (s *GormStore) Set(ctx context.Context, integrationID, actionID string, blob []byte) error {
	row := IntegrationState{
		IntegrationID: integrationID,
		ActionID:      actionID,
		State:         blob,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "integration_id"}, {Name: "action_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return storeError(err, s.backend, "set", integrationID, actionID)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, integrationID, actionID string) error {
	err := s.db.WithContext(ctx).
		Where("integration_id = ? AND action_id = ?", integrationID, actionID).
		Delete(&IntegrationState{}).Error
	if err != nil {
		return storeError(err, s.backend, "delete", integrationID, actionID)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storeError(err, s.backend, "close", "", "")
	}
	return sqlDB.Close()
}
