package db

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/models"
)

func TestDSN(t *testing.T) {
	dsn := DSN("/tmp/swb.db")
	if !strings.HasPrefix(dsn, "file:/tmp/swb.db?") {
		t.Errorf("DSN = %q", dsn)
	}
	if !strings.Contains(dsn, "_journal_mode=WAL") {
		t.Errorf("DSN missing WAL: %q", dsn)
	}
	if !strings.Contains(dsn, "_busy_timeout=5000") {
		t.Errorf("DSN missing busy timeout: %q", dsn)
	}
}

func TestConnect_MissingPath(t *testing.T) {
	if _, err := Connect(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestConnect_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "swb.db")
	g, err := Connect(path)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(g); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
}

func TestAutoMigrate_FTSRoundTrip(t *testing.T) {
	g, err := Connect(filepath.Join(t.TempDir(), "swb.db"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(g); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if !HasFTS(g) {
		t.Skip("sqlite built without fts5; run with -tags sqlite_fts5")
	}

	msg := models.Message{
		ID:        "m1",
		FromAgent: "researcher",
		ToAgent:   "user",
		ThreadID:  "agent:researcher",
		Kind:      models.KindMessage,
		Body:      "the parser rejects unicode identifiers",
		CreatedAt: time.Now(),
	}
	if err := g.Create(&msg).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}

	var ids []string
	err = g.Raw(`SELECT m.id FROM messages m
		JOIN messages_fts f ON f.rowid = m.rowid
		WHERE messages_fts MATCH ?`, "unicode").Scan(&ids).Error
	if err != nil {
		t.Fatalf("fts query: %v", err)
	}
	if len(ids) != 1 || ids[0] != "m1" {
		t.Errorf("fts results = %v, want [m1]", ids)
	}
}

func TestReset(t *testing.T) {
	g, err := Connect(filepath.Join(t.TempDir(), "swb.db"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(g); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := g.Create(&models.Message{ID: "m1", FromAgent: "a", ToAgent: "user", ThreadID: "t", CreatedAt: time.Now()}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := Reset(g); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	var count int64
	if err := g.Model(&models.Message{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("count after reset = %d", count)
	}
}
