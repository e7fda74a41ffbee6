package database

import (
	"fmt"

	"rewards-ledger/internal/config"
	"rewards-ledger/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect opens the configured database. Postgres is the production target;
// sqlite is used for single-node local runs.
func Connect(cfg *config.Config, log *logrus.Entry) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.SQLitePath + "?_busy_timeout=5000&_foreign_keys=on")
	default:
		dialector = postgres.Open(cfg.GetDSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Error),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.Driver == "sqlite" {
		// one writer at a time
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	DB = db
	log.WithField("driver", cfg.Database.Driver).Info("Database connection established")
	return db, nil
}

// AutoMigrate creates or updates every table and seeds the singleton rows.
func AutoMigrate(db *gorm.DB, log *logrus.Entry) error {
	for _, model := range models.AllModels() {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	if err := SeedSingletons(db); err != nil {
		return err
	}

	log.Info("Database migrations completed")
	return nil
}

// SeedSingletons inserts the pool state row and the job markers if missing.
func SeedSingletons(db *gorm.DB) error {
	pool := models.GlobalPoolState{
		ID:               models.GlobalPoolStateID,
		CurrentPoolUSD:   decimal.Zero,
		TotalCollected:   decimal.Zero,
		TotalDistributed: decimal.Zero,
		TotalRetained:    decimal.Zero,
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&pool).Error; err != nil {
		return fmt.Errorf("failed to seed global pool state: %w", err)
	}

	for _, name := range []string{models.JobDailyEarnings, models.JobGlobalPool} {
		state := models.JobState{Name: name}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&state).Error; err != nil {
			return fmt.Errorf("failed to seed job state %s: %w", name, err)
		}
	}
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
