package database_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"datauniverse/relay/internal/database"
)

func TestNewDBRunsMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay.sqlite")

	for i := 0; i < 2; i++ {
		db, err := database.NewDB(database.NewConfig(path))
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}

		var applied int
		if err := db.Get(&applied, "SELECT COUNT(*) FROM migrations"); err != nil {
			t.Fatalf("count migrations: %v", err)
		}
		if applied != 1 {
			t.Fatalf("expected 1 applied migration, got %d", applied)
		}

		var tables int
		if err := db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'DataEntity'"); err != nil {
			t.Fatalf("lookup table: %v", err)
		}
		if tables != 1 {
			t.Fatalf("DataEntity table missing")
		}
		db.Close()
	}
}

func TestOpenWithFallbackUsesMemory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	db, degraded, err := database.OpenWithFallback(database.NewConfig(filepath.Join(blocker, "relay.sqlite")))
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	defer db.Close()

	if !degraded {
		t.Fatal("expected degraded storage")
	}
	if db.Path != database.MemoryPath {
		t.Fatalf("expected memory path, got %q", db.Path)
	}
	if _, err := db.Exec("SELECT COUNT(*) FROM DataEntity"); err != nil {
		t.Fatalf("fallback database not migrated: %v", err)
	}
}

func TestFormatTimeIsFixedWidthUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	a := database.FormatTime(time.Date(2024, 1, 1, 1, 0, 0, 0, loc))
	b := database.FormatTime(time.Date(2024, 1, 1, 0, 0, 0, 500, time.UTC))

	if a != "2024-01-01 00:00:00.000000000+00:00" {
		t.Fatalf("unexpected format %q", a)
	}
	if len(a) != len(b) || !(a < b) {
		t.Fatalf("expected %q < %q with equal width", a, b)
	}
}

func TestOpenReadOnlyCreatesSchemaAndRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.sqlite")

	ro, err := database.OpenReadOnly(database.NewConfig(path))
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()

	var rows int
	if err := ro.Get(&rows, "SELECT COUNT(*) FROM DataEntity"); err != nil {
		t.Fatalf("schema missing on read-only handle: %v", err)
	}

	insert := `INSERT INTO DataEntity (uri, datetime, timeBucketId, source, label, content, contentSizeBytes)
		VALUES (?, ?, 0, 2, NULL, x'00', 1)`
	if _, err := ro.Exec(insert, "https://x.com/a/status/1", database.FormatTime(time.Now())); err == nil {
		t.Fatal("write through read-only handle succeeded")
	}

	rw, err := database.NewDB(database.NewConfig(path))
	if err != nil {
		t.Fatalf("open read-write: %v", err)
	}
	defer rw.Close()
	if _, err := rw.Exec(insert, "https://x.com/a/status/1", database.FormatTime(time.Now())); err != nil {
		t.Fatalf("write through read-write handle: %v", err)
	}

	if err := ro.Get(&rows, "SELECT COUNT(*) FROM DataEntity"); err != nil || rows != 1 {
		t.Fatalf("read-only handle sees %d rows, err %v", rows, err)
	}
}

func TestOpenReadOnlyRejectsMemory(t *testing.T) {
	if _, err := database.OpenReadOnly(database.NewConfig(database.MemoryPath)); err == nil {
		t.Fatal("expected error for in-memory path")
	}
}
