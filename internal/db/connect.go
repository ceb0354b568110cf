// Package db opens and migrates the single-file Switchboard database.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a SQLite DSN with WAL journaling and a busy timeout, so
// concurrent readers proceed while a writer holds the file.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
}

// Connect opens a GORM connection to the store file, creating parent
// directories as needed.
func Connect(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("db: create %s: %w", dir, err)
		}
	}

	g, err := gorm.Open(sqlite.Open(DSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}

	// WAL lets readers proceed while one writer holds the file; the store
	// serializes its own writes, so a small pool is enough.
	sqlDB, err := g.DB()
	if err != nil {
		return nil, fmt.Errorf("db: unwrap %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(4)

	return g, nil
}
