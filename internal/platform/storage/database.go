package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tuya-ble-cloud/internal/platform/errors"
	"tuya-ble-cloud/internal/platform/storage/migrations"
)

// Config selects the SQLite database.
type Config struct {
	DSN string
}

// Migrations returns the schema migrations in order.
func Migrations() []Migration {
	return []Migration{
		&migrations.Migration001ConfigEntries{},
		&migrations.Migration002CredentialEvents{},
	}
}

// Open opens the SQLite database at cfg.DSN and brings its schema up to date.
func Open(ctx context.Context, cfg Config) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = "data/entries.db"
	}
	if isFilePath(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, errors.Wrap(errors.KindStorage, "storage.open", "failed to create data directory", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "failed to open database", err)
	}

	if _, err := NewMigrationManager(db, Migrations()...).RunMigrations(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(errors.KindStorage, "storage.close", "failed to get sql handle", err)
	}
	return sqlDB.Close()
}

func isFilePath(dsn string) bool {
	return !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, ":memory:")
}
