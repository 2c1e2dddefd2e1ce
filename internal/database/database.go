package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/hopshell/internal/config"
	"github.com/gluk-w/hopshell/internal/sshkeys"
)

var DB *gorm.DB

// Path returns the database file location for the current settings.
func Path() string {
	return filepath.Join(sshkeys.ExpandHome(config.Cfg.DataPath), "hopshell.db")
}

// Init opens the database at Path into DB.
func Init() error {
	db, err := Open(Path())
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open opens (creating if needed) the sqlite database at dbPath and
// migrates the schema.
func Open(dbPath string) (*gorm.DB, error) {
	if dbDir := filepath.Dir(dbPath); dbDir != "" {
		if err := os.MkdirAll(dbDir, 0700); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&AuditRecord{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return db, nil
}

// Close closes DB if it is open.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	DB = nil
	return sqlDB.Close()
}
