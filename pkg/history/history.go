// Package history stores the append-only audit trail of update attempts.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

var (
	// errAppendFailed indicates a record could not be written.
	errAppendFailed = errors.New("failed to append update record")
	// errQueryFailed indicates records could not be read.
	errQueryFailed = errors.New("failed to query update records")
	// errNilRecord indicates Append was called without a record.
	errNilRecord = errors.New("update record is nil")
)

// Store is a SQLite-backed types.HistoryStore.
type Store struct {
	db *sql.DB
}

// New creates a Store over an open, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes record and sets its ID. A missing AttemptID is generated,
// zero timestamps default to now and an empty status defaults to success.
//
// Parameters:
//   - ctx: Context for the write.
//   - record: Record to persist; updated in place with its row id.
//
// Returns:
//   - error: Non-nil if the record was not stored.
func (s *Store) Append(ctx context.Context, record *types.UpdateRecord) error {
	if record == nil {
		return errNilRecord
	}

	if record.AttemptID == "" {
		record.AttemptID = uuid.New().String()
	}

	if record.Status == "" {
		record.Status = types.StatusSuccess
	}

	now := time.Now().UTC()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}

	if record.StartedAt.IsZero() {
		record.StartedAt = record.UpdatedAt
	}

	var newDigest *string
	if record.NewDigest != nil {
		d := string(*record.NewDigest)
		newDigest = &d
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO update_records (
			attempt_id, container_id, container_name, old_image, new_image,
			old_digest, new_digest, status, error_message, started_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.AttemptID,
		string(record.ContainerID),
		record.ContainerName,
		record.OldImage,
		record.NewImage,
		string(record.OldDigest),
		newDigest,
		string(record.Status),
		record.ErrorMessage,
		record.StartedAt.UTC(),
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", errAppendFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: %w", errAppendFailed, err)
	}

	record.ID = id

	logrus.WithFields(logrus.Fields{
		"container": record.ContainerName,
		"attempt":   record.AttemptID,
		"status":    record.Status,
	}).Debug("Appended update record")

	return nil
}

// QueryByContainer returns the records of a container id, most recent first.
// A limit of zero or less returns all records.
func (s *Store) QueryByContainer(
	ctx context.Context,
	id types.ContainerID,
	limit int,
) ([]types.UpdateRecord, error) {
	return s.query(ctx, "container_id", string(id), limit)
}

// QueryByName returns the records of a container name, most recent first.
// Names outlive container ids, so this spans recreations.
func (s *Store) QueryByName(ctx context.Context, name string, limit int) ([]types.UpdateRecord, error) {
	return s.query(ctx, "container_name", name, limit)
}

func (s *Store) query(ctx context.Context, column, value string, limit int) ([]types.UpdateRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	// column is one of two constants chosen by the callers above.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, attempt_id, container_id, container_name, old_image, new_image,
			old_digest, new_digest, status, error_message, started_at, updated_at
		FROM update_records
		WHERE `+column+` = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT ?`,
		value, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errQueryFailed, err)
	}
	defer rows.Close()

	var records []types.UpdateRecord

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errQueryFailed, err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errQueryFailed, err)
	}

	return records, nil
}

func scanRecord(rows *sql.Rows) (types.UpdateRecord, error) {
	var (
		record       types.UpdateRecord
		containerID  string
		oldDigest    string
		status       string
		newDigest    sql.NullString
		errorMessage sql.NullString
	)

	err := rows.Scan(
		&record.ID,
		&record.AttemptID,
		&containerID,
		&record.ContainerName,
		&record.OldImage,
		&record.NewImage,
		&oldDigest,
		&newDigest,
		&status,
		&errorMessage,
		&record.StartedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return types.UpdateRecord{}, err
	}

	record.ContainerID = types.ContainerID(containerID)
	record.OldDigest = types.Digest(oldDigest)
	record.Status = types.UpdateStatus(status)

	if newDigest.Valid {
		d := types.Digest(newDigest.String)
		record.NewDigest = &d
	}

	if errorMessage.Valid {
		msg := errorMessage.String
		record.ErrorMessage = &msg
	}

	return record, nil
}
