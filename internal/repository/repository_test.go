package repository

import (
	"path/filepath"
	"testing"

	"github.com/dkessler/classpulse/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.RecordingSession{},
		&domain.AIJob{},
		&domain.QueueItem{},
		&domain.Notification{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}
