package testutil

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dgt-economy-system/models"
)

// OpenTestDB opens an in-memory SQLite database with all economy tables
// migrated. A single connection is enforced so concurrent test goroutines
// serialize the same way independent requests do against one row.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Account{},
		&models.Transaction{},
		&models.Vault{},
		&models.CooldownState{},
		&models.UserProgress{},
		&models.XPActionLimit{},
		&models.MissionTemplate{},
		&models.ActiveMission{},
		&models.MissionProgress{},
		&models.MissionStreak{},
		&models.MissionHistory{},
		&models.AchievementEvent{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	return db
}
