// Package database opens the SQLite database that holds update history and
// image lineage, and applies its schema.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// dirPermissions is the mode used when creating the database directory.
const dirPermissions = 0o750

// busyTimeoutMillis bounds how long a writer waits on a locked database.
const busyTimeoutMillis = 5000

var (
	// errCreateDirFailed indicates the database directory could not be created.
	errCreateDirFailed = errors.New("failed to create database directory")
	// errOpenFailed indicates the database could not be opened.
	errOpenFailed = errors.New("failed to open database")
	// errMigrationFailed indicates a schema migration failed.
	errMigrationFailed = errors.New("failed to run migration")
)

// Open opens the database at path, creating its directory on fs, and brings
// the schema up to date.
//
// Parameters:
//   - ctx: Context bounding connection checks and migrations.
//   - fs: Filesystem used to create the parent directory.
//   - path: Database file path, or MemoryPath.
//
// Returns:
//   - *sql.DB: Ready connection pool.
//   - error: Non-nil if the directory, connection or schema setup fails.
func Open(ctx context.Context, fs afero.Fs, path string) (*sql.DB, error) {
	clog := logrus.WithField("database", path)

	if path != MemoryPath {
		if err := ensureDir(fs, path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errOpenFailed, err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", errOpenFailed, err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	clog.Debug("Database ready")

	return db, nil
}

// ensureDir creates the directory holding path when missing.
func ensureDir(fs afero.Fs, path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	if err := fs.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("%w: %s: %w", errCreateDirFailed, dir, err)
	}

	return nil
}

// dsn adds pragmas to a file path. WAL lets readers proceed while a writer
// holds the database.
func dsn(path string) string {
	if path == MemoryPath || strings.HasPrefix(path, "file:") {
		return path
	}

	return fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		path,
		busyTimeoutMillis,
	)
}
