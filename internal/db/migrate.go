package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/majordomo-sh/majordomo/internal/models"
)

// AllModels returns every GORM model the schema carries, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&models.Session{},
		&models.PendingExecution{},
		&models.Marker{},
		&models.CallRecord{},
		&models.CallLine{},
		&models.VoiceToken{},
		&models.AuditNote{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops and recreates every table. Used by `domo db reset`.
func Reset(db *gorm.DB) error {
	if err := db.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return AutoMigrate(db)
}

// TableCounts reports row counts per model table, for `domo db status`.
func TableCounts(db *gorm.DB) (map[string]int64, error) {
	counts := make(map[string]int64, len(AllModels()))
	for _, m := range AllModels() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return nil, fmt.Errorf("db: parse model: %w", err)
		}
		var n int64
		if err := db.Model(m).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("db: count %s: %w", stmt.Schema.Table, err)
		}
		counts[stmt.Schema.Table] = n
	}
	return counts, nil
}
