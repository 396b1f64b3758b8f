// Package lineage tracks locally known images and records which tag an image
// carried before an update moved that tag to a newer image.
package lineage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

var (
	// ErrImageNotFound indicates no row exists for an image id.
	ErrImageNotFound = errors.New("managed image not found")
	// errMissingImageID indicates a row without an image id.
	errMissingImageID = errors.New("image id is required")
	// errRefreshFailed indicates an upsert failed.
	errRefreshFailed = errors.New("failed to refresh managed image")
	// errTransitionFailed indicates a tag transition could not be recorded.
	errTransitionFailed = errors.New("failed to record tag transition")
	// errQueryFailed indicates managed images could not be read.
	errQueryFailed = errors.New("failed to query managed images")
)

// Tracker is a SQLite-backed types.LineageStore.
type Tracker struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a Tracker over an open, migrated database.
func New(db *sql.DB) *Tracker {
	return &Tracker{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Refresh upserts the row for image. A row given a current tag stops being
// dangling, so its previous tag is cleared.
//
// Parameters:
//   - ctx: Context for the write.
//   - image: Image as currently seen in the runtime.
//
// Returns:
//   - error: Non-nil if the row could not be written.
func (t *Tracker) Refresh(ctx context.Context, image types.ManagedImage) error {
	if image.ImageID == "" {
		return errMissingImageID
	}

	now := t.now()

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO managed_images (image_id, repository, current_tag, digest, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(image_id) DO UPDATE SET
			repository = CASE WHEN excluded.repository = '' THEN repository ELSE excluded.repository END,
			current_tag = COALESCE(excluded.current_tag, current_tag),
			digest = COALESCE(excluded.digest, digest),
			previous_tag = CASE WHEN excluded.current_tag IS NULL THEN previous_tag ELSE NULL END,
			transitioned_at = CASE WHEN excluded.current_tag IS NULL THEN transitioned_at ELSE NULL END,
			last_seen = excluded.last_seen`,
		string(image.ImageID),
		image.Repository,
		nullString(image.CurrentTag),
		nullString(string(image.Digest)),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", errRefreshFailed, err)
	}

	return nil
}

// RecordTagTransition marks id as dangling with oldTag as its previous tag.
// Only the first transition of an image is kept; later calls leave the row
// as it is.
//
// Parameters:
//   - ctx: Context for the write.
//   - id: Image that lost its tag.
//   - oldTag: Tag the image carried before the update.
//
// Returns:
//   - error: Non-nil if the transition could not be stored.
func (t *Tracker) RecordTagTransition(ctx context.Context, id types.ImageID, oldTag string) error {
	if id == "" {
		return errMissingImageID
	}

	now := t.now()

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", errTransitionFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Insert the row when the image was never refreshed.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO managed_images (image_id, first_seen, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(image_id) DO NOTHING`,
		string(id), now, now,
	); err != nil {
		return fmt.Errorf("%w: %w", errTransitionFailed, err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE managed_images
		SET current_tag = NULL, previous_tag = ?, transitioned_at = ?, last_seen = ?
		WHERE image_id = ? AND previous_tag IS NULL`,
		nullString(oldTag), now, now, string(id),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", errTransitionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", errTransitionFailed, err)
	}

	affected, _ := result.RowsAffected()
	logrus.WithFields(logrus.Fields{
		"image":        id.ShortID(),
		"previous_tag": oldTag,
		"recorded":     affected > 0,
	}).Debug("Recorded tag transition")

	return nil
}

// ListDangling returns images without a current tag, most recently
// transitioned first.
func (t *Tracker) ListDangling(ctx context.Context) ([]types.ManagedImage, error) {
	rows, err := t.db.QueryContext(ctx, selectColumns+`
		WHERE current_tag IS NULL
		ORDER BY transitioned_at IS NULL, transitioned_at DESC, last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errQueryFailed, err)
	}
	defer rows.Close()

	var images []types.ManagedImage

	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errQueryFailed, err)
		}

		images = append(images, image)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errQueryFailed, err)
	}

	return images, nil
}

// Get returns the row for id, or ErrImageNotFound.
func (t *Tracker) Get(ctx context.Context, id types.ImageID) (types.ManagedImage, error) {
	row := t.db.QueryRowContext(ctx, selectColumns+` WHERE image_id = ?`, string(id))

	image, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ManagedImage{}, fmt.Errorf("%w: %s", ErrImageNotFound, id)
	}

	if err != nil {
		return types.ManagedImage{}, fmt.Errorf("%w: %w", errQueryFailed, err)
	}

	return image, nil
}

const selectColumns = `
	SELECT image_id, repository, current_tag, digest, previous_tag,
		first_seen, last_seen, transitioned_at
	FROM managed_images`

type scanner interface {
	Scan(dest ...any) error
}

func scanImage(row scanner) (types.ManagedImage, error) {
	var (
		image       types.ManagedImage
		imageID     string
		currentTag  sql.NullString
		digest      sql.NullString
		previousTag sql.NullString
		transition  sql.NullTime
	)

	err := row.Scan(
		&imageID,
		&image.Repository,
		&currentTag,
		&digest,
		&previousTag,
		&image.FirstSeen,
		&image.LastSeen,
		&transition,
	)
	if err != nil {
		return types.ManagedImage{}, err
	}

	image.ImageID = types.ImageID(imageID)
	image.CurrentTag = currentTag.String
	image.Digest = types.Digest(digest.String)
	image.PreviousTag = previousTag.String

	if transition.Valid {
		at := transition.Time
		image.TransitionedAt = &at
	}

	return image, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
