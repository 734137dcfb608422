package db

import (
	"fmt"

	"docsync/internal/config"
	"docsync/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm initializes a new GORM database connection
// Learning: GORM provides a higher-level abstraction over raw SQL
// The same models run on Postgres in production and on pure-Go SQLite for
// single-node setups and tests.
func NewGorm(cfg *config.Config, log *logrus.Logger) (*GormDB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL())
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	level := logger.Warn
	if log.IsLevelEnabled(logrus.DebugLevel) {
		level = logger.Info // Shows SQL queries while debugging
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	log.WithField("driver", cfg.DBDriver).Info("✓ Database connected and migrated successfully")

	return &GormDB{db}, nil
}

// NewInMemory opens a private, migrated in-memory SQLite database.
func NewInMemory() (*GormDB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", ksuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite memory DB: %w", err)
	}
	// One connection serializes writers; shared-cache SQLite reports
	// "table is locked" instead of waiting.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		return nil, err
	}
	return &GormDB{db}, nil
}

// Auto-migrate schema
// Learning: GORM automatically creates/updates tables based on struct definitions
func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Document{},
		&models.Revision{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
