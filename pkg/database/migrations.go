package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// migration is one named, idempotent schema step.
type migration struct {
	name string
	sql  string
}

// migrations run in order on every open. Each statement must be safe to
// repeat.
var migrations = []migration{
	{
		name: "create_update_records_table",
		sql: `
CREATE TABLE IF NOT EXISTS update_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt_id TEXT NOT NULL UNIQUE,
    container_id TEXT NOT NULL,
    container_name TEXT NOT NULL,
    old_image TEXT NOT NULL,
    new_image TEXT NOT NULL,
    old_digest TEXT NOT NULL DEFAULT '',
    new_digest TEXT,
    status TEXT NOT NULL DEFAULT 'success'
        CHECK (status IN ('success', 'failed', 'rolled_back')),
    error_message TEXT,
    started_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_update_records_container ON update_records(container_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_update_records_name ON update_records(container_name, updated_at);
`,
	},
	{
		name: "create_update_records_append_only_triggers",
		sql: `
CREATE TRIGGER IF NOT EXISTS update_records_no_update
BEFORE UPDATE ON update_records
BEGIN
    SELECT RAISE(ABORT, 'update_records is append-only');
END;

CREATE TRIGGER IF NOT EXISTS update_records_no_delete
BEFORE DELETE ON update_records
BEGIN
    SELECT RAISE(ABORT, 'update_records is append-only');
END;
`,
	},
	{
		name: "create_managed_images_table",
		sql: `
CREATE TABLE IF NOT EXISTS managed_images (
    image_id TEXT PRIMARY KEY,
    repository TEXT NOT NULL DEFAULT '',
    current_tag TEXT,
    digest TEXT,
    previous_tag TEXT,
    first_seen TIMESTAMP NOT NULL,
    last_seen TIMESTAMP NOT NULL,
    transitioned_at TIMESTAMP,
    CHECK (previous_tag IS NULL OR current_tag IS NULL)
);

CREATE INDEX IF NOT EXISTS idx_managed_images_tag ON managed_images(repository, current_tag);
`,
	},
}

// Migrate applies every migration in order.
//
// Parameters:
//   - ctx: Context bounding the migration statements.
//   - db: Open database.
//
// Returns:
//   - error: Non-nil naming the first migration that failed.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		logrus.WithField("migration", m.name).Debug("Running migration")

		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("%w %s: %w", errMigrationFailed, m.name, err)
		}
	}

	return nil
}
