package db

import (
	"fmt"
	"strings"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Message{},
	}
}

// AutoMigrate creates or updates all tables, including the full-text index.
func AutoMigrate(g *gorm.DB) error {
	if err := g.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	if err := createFTS(g); err != nil {
		return err
	}
	return nil
}

// createFTS builds the FTS5 index over message bodies. Message bodies are
// immutable, so only insert and delete triggers are needed to keep the
// index in sync.
//
// The bundled sqlite only includes FTS5 when built with the sqlite_fts5
// tag. Without it the index is skipped and full-text search reports
// itself unavailable; everything else works.
func createFTS(g *gorm.DB) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			body,
			content='messages',
			content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, body) VALUES (new.rowid, new.body);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_fts_delete AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, body) VALUES ('delete', old.rowid, old.body);
		END`,
	}
	for _, stmt := range stmts {
		if err := g.Exec(stmt).Error; err != nil {
			if strings.Contains(err.Error(), "fts5") {
				return nil
			}
			return fmt.Errorf("db: create fts index: %w", err)
		}
	}
	return nil
}

// HasFTS reports whether the full-text index exists, i.e. the binary was
// built with the sqlite_fts5 tag before the store was migrated.
func HasFTS(g *gorm.DB) bool {
	var n int64
	g.Raw(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'messages_fts'`).Scan(&n)
	return n > 0
}

// Reset drops all tables and re-migrates, used by `swb db reset`.
func Reset(g *gorm.DB) error {
	drops := []string{
		`DROP TRIGGER IF EXISTS messages_fts_insert`,
		`DROP TRIGGER IF EXISTS messages_fts_delete`,
		`DROP TABLE IF EXISTS messages_fts`,
		`DROP TABLE IF EXISTS messages`,
	}
	for _, stmt := range drops {
		if err := g.Exec(stmt).Error; err != nil {
			return fmt.Errorf("db: reset: %w", err)
		}
	}
	return AutoMigrate(g)
}
