package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"datauniverse/relay/internal/database/migrations"
)

// timeLayout is fixed width so that string comparison in SQLite matches
// chronological order. mattn/go-sqlite3 parses it back into time.Time for
// TIMESTAMP columns.
const timeLayout = "2006-01-02 15:04:05.000000000-07:00"

// DB represents the database connection
type DB struct {
	*sqlx.DB
	Path string
}

// NewDB creates a new database connection with optimized settings
func NewDB(cfg *Config) (*DB, error) {
	if !cfg.IsMemory() {
		dir := filepath.Dir(cfg.DBPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory for database: %w", err)
			}
		}
	}

	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}

	sep := "?"
	if strings.Contains(cfg.DBPath, "?") {
		sep = "&"
	}
	var dsn string
	if cfg.ReadOnly {
		// mode is a URI parameter; the driver drops the query string of plain paths
		base := cfg.DBPath
		if !strings.HasPrefix(base, "file:") {
			base = "file:" + base
		}
		dsn = fmt.Sprintf("%s%smode=ro&_busy_timeout=%d", base, sep, cfg.BusyTimeoutMS)
	} else {
		// WAL mode allows concurrent reads while the ingestion loop writes
		dsn = fmt.Sprintf("%s%s_journal=WAL&_synchronous=NORMAL&_busy_timeout=%d",
			cfg.DBPath, sep, cfg.BusyTimeoutMS)
	}

	if cfg.ReadOnly {
		log.Info().Str("path", cfg.DBPath).Msg("Opening database in Read-Only mode (from config)")
	} else {
		log.Info().Str("path", cfg.DBPath).Msg("Opening database in Read-Write mode (from config)")
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.IsMemory() {
		// the in-memory database lives as long as one connection does
		db.SetConnMaxLifetime(0)
	} else {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	var pragmas []string
	if cfg.ReadOnly {
		pragmas = []string{
			fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB),
			"PRAGMA temp_store = MEMORY;",
			"PRAGMA query_only = ON;",
		}
	} else {
		pragmas = []string{
			fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB),
			"PRAGMA temp_store = MEMORY;",
		}
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Str("mode", modeStr(cfg.ReadOnly)).Msg("Failed to set PRAGMA")
		}
	}

	if !cfg.ReadOnly {
		log.Info().Msg("Running database migrations...")
		migrationFiles, err := migrations.Embedded()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load migrations: %w", err)
		}

		if err := migrations.RunMigrations(db.DB, migrationFiles); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info().Msg("Database migrations completed successfully")
	} else {
		log.Info().Msg("Skipping migrations for read-only connection (from config).")
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db (%s): %w", modeStr(cfg.ReadOnly), err)
	}

	log.Info().Str("mode", modeStr(cfg.ReadOnly)).Msg("Database connection successful")
	return &DB{DB: db, Path: cfg.DBPath}, nil
}

// OpenWithFallback opens the configured database and, if that fails, falls
// back to a shared in-memory database so ingestion can keep running. The
// returned flag reports whether the fallback was taken.
func OpenWithFallback(cfg *Config) (*DB, bool, error) {
	db, err := NewDB(cfg)
	if err == nil {
		return db, false, nil
	}

	log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to open database, falling back to in-memory storage")

	memCfg := NewConfig(MemoryPath)
	memCfg.MaxOpenConns = 1
	memCfg.MaxIdleConns = 1
	memDB, memErr := NewDB(memCfg)
	if memErr != nil {
		return nil, false, fmt.Errorf("failed to open database (%v) and in-memory fallback: %w", err, memErr)
	}
	return memDB, true, nil
}

// OpenReadOnly opens the database for a process that only reads, such as the
// API server. A missing file is created and migrated first so the server can
// start before the first ingestion run. There is no in-memory fallback: an
// empty store nobody writes to would only hide the failure.
func OpenReadOnly(cfg *Config) (*DB, error) {
	if cfg.IsMemory() {
		return nil, fmt.Errorf("read-only mode needs an on-disk database, got %q", cfg.DBPath)
	}

	if _, err := os.Stat(cfg.DBPath); errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", cfg.DBPath).Msg("Database file missing, creating schema before read-only open")
		rw, err := NewDB(NewConfig(cfg.DBPath))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := rw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close initialized database: %w", err)
		}
	}

	roCfg := *cfg
	roCfg.ReadOnly = true
	return NewDB(&roCfg)
}

// FormatTime renders a timestamp the way DataEntity.datetime stores it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Helper for logging
func modeStr(readOnly bool) string {
	if readOnly {
		return "read-only"
	}
	return "read-write"
}

// ParseTime reads a DataEntity.datetime value rendered by FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
