// Package catalog is the durable relational store tying together Files,
// Tapes, and RestoreJobs (spec.md §3/§4.1). It exposes typed queries and
// mutations; callers never issue raw SQL against the schema directly.
package catalog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SchemaVersion is the schema version this build expects.
// CheckSchemaVersion rejects a catalog whose config "version" entry
// differs (spec.md §4.1).
const SchemaVersion = 1

// maxBusyRetries and busyRetryBackoff implement spec.md §4.1's explicit
// concurrency contract: "bounded backoff (up to 10 attempts at ~5 s)".
// This overrides original_source's Python revision (10 attempts, 10s
// sleep) per the rule that an explicit spec number wins over an
// ambiguity the original would otherwise resolve.
const (
	maxBusyRetries   = 10
	busyRetryBackoff = 5 * time.Second
)

// ErrNeedsMigrate is returned by CheckSchemaVersion when the catalog has
// no version entry.
var ErrNeedsMigrate = errors.New("catalog needs migrate: no schema version found")

// ErrNeedsUpgrade is returned by CheckSchemaVersion when the catalog's
// version entry does not match SchemaVersion.
var ErrNeedsUpgrade = errors.New("catalog needs upgrade: schema version mismatch")

// Catalog wraps the SQLite connection and the busy-retry discipline.
type Catalog struct {
	db *sql.DB
}

// New opens (creating if absent) the SQLite catalog at dbPath and
// enforces WAL + single-writer discipline — mirrors teacher's
// internal/database/database.go connection setup. It does not apply
// migrations; callers run Migrate for that.
func New(dbPath string) (*Catalog, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	// SQLite supports one writer at a time; a single connection plus our
	// own retry loop (below) is how spec.md's "serialize writes and retry
	// on database busy" contract is implemented.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close closes the underlying connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Migrate applies pending numbered migrations from the embedded
// migrations directory, tracked in a schema_migrations table.
func (c *Catalog) Migrate() error {
	if _, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var currentVersion int
	if err := c.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read current migration version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%03d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := c.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

// CheckSchemaVersion enforces spec.md §4.1's schema-versioning contract.
func (c *Catalog) CheckSchemaVersion() error {
	var value string
	err := c.withRetry(func() error {
		return c.db.QueryRow("SELECT value FROM config WHERE name = 'version'").Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNeedsMigrate
	}
	if err != nil {
		return err
	}

	version, convErr := strconv.Atoi(value)
	if convErr != nil || version != SchemaVersion {
		return ErrNeedsUpgrade
	}
	return nil
}

// Backup snapshots the catalog into destDir as tapebackup-{epoch}.db
// using SQLite's VACUUM INTO, which both defragments and guarantees a
// consistent point-in-time copy even with concurrent readers — grounded
// on original_source's db.py `export` (`database-backup-git-path`),
// replacing its unimplemented SQL-dump stub with a real snapshot
// mechanism.
func (c *Catalog) Backup(destDir string, epoch int64) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	path := filepath.Join(destDir, fmt.Sprintf("tapebackup-%d.db", epoch))
	err := c.withRetry(func() error {
		_, execErr := c.db.Exec(fmt.Sprintf("VACUUM INTO %s", quoteSQLString(path)))
		return execErr
	})
	if err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return path, nil
}

func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// withRetry wraps a catalog write (or read that must observe a consistent
// snapshot) with spec.md §4.1's bounded-backoff busy retry. On exhaustion
// it returns an error directing the operator to run repair, matching
// spec.md §7's "eventual fatal" policy for transient I/O contention.
func (c *Catalog) withRetry(fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxBusyRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isBusyErr(lastErr) {
			return lastErr
		}
		if attempt < maxBusyRetries {
			time.Sleep(busyRetryBackoff)
		}
	}
	return fmt.Errorf("catalog busy after %d attempts, run 'tapebackarr db repair': %w", maxBusyRetries, lastErr)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// nowUnix is the stage-timestamp convention used throughout the catalog
// (mirrors original_source's int(time.time()) epoch-second fields).
func nowUnix() int64 {
	return time.Now().Unix()
}
