// Package database provides database connection management and migrations
// for repub. It supports SQLite, PostgreSQL, and MySQL through GORM; the
// default deployment is a single-process SQLite database in WAL mode.
package database

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/repub-dev/repub/internal/config"
	"github.com/repub-dev/repub/internal/models"
)

// DB wraps a GORM database connection.
type DB struct {
	*gorm.DB
	cfg config.DatabaseConfig
}

// New creates a new database connection based on the provided configuration.
func New(cfg config.DatabaseConfig, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	dialector, err := getDialector(cfg)
	if err != nil {
		return nil, fmt.Errorf("getting dialector: %w", err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	// For SQLite in WAL mode concurrent readers are allowed but only one
	// writer at a time; keep the pool small to limit lock contention.
	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if cfg.Driver == "sqlite" && maxOpen > 6 {
		maxOpen, maxIdle = 6, 3
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Info("database opened",
		slog.String("driver", cfg.Driver),
		slog.Int("max_open_conns", maxOpen))

	return &DB{DB: db, cfg: cfg}, nil
}

// Migrate applies the schema. The schema evolves by additive columns only;
// AutoMigrate never drops or rewrites existing columns, so rows written by
// older versions read back with nulls in the new fields.
func (d *DB) Migrate() error {
	if err := d.AutoMigrate(
		&models.Task{},
		&models.MonitorConfig{},
		&models.MonitorHistory{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// getDialector returns the appropriate GORM dialector for the configured driver.
func getDialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		// Pure Go SQLite driver; PRAGMAs are applied via DSN parameters so
		// they take effect on every connection from the pool.
		dsn := cfg.DSN
		if strings.Contains(dsn, "?") {
			dsn += "&"
		} else {
			dsn += "?"
		}
		dsn += "_pragma=busy_timeout(30000)" +
			"&_pragma=journal_mode(WAL)" +
			"&_pragma=synchronous(NORMAL)" +
			"&_pragma=foreign_keys(ON)"
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// gormLogLevel maps string log levels to GORM logger levels.
func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
