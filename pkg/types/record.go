package types

import "time"

// UpdateStatus is the terminal outcome of one update attempt.
type UpdateStatus string

// Update outcomes.
const (
	StatusSuccess    UpdateStatus = "success"
	StatusFailed     UpdateStatus = "failed"
	StatusRolledBack UpdateStatus = "rolled_back"
)

// UpdateRecord is the audit entry written once per update attempt.
//
// Records are append-only: nothing updates or deletes them after Append.
type UpdateRecord struct {
	ID            int64        // Storage row id, set by the history store.
	AttemptID     string       // Correlates logs, metrics and notifications.
	ContainerID   ContainerID  // Container id at attempt time.
	ContainerName string       // Container name at attempt time.
	OldImage      string       // repository:tag before the attempt.
	NewImage      string       // repository:tag the attempt moved to.
	OldDigest     Digest       // Digest running before the attempt.
	NewDigest     *Digest      // Nil when no new image was obtained.
	Status        UpdateStatus // Defaults to success.
	ErrorMessage  *string      // Set only for non-success outcomes.
	StartedAt     time.Time
	UpdatedAt     time.Time // Completion time.
}

// Succeeded reports whether the attempt finished with status success.
func (r UpdateRecord) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Error returns the error message or an empty string.
func (r UpdateRecord) Error() string {
	if r.ErrorMessage == nil {
		return ""
	}

	return *r.ErrorMessage
}

// NewDigestString returns the new digest or an empty string.
func (r UpdateRecord) NewDigestString() string {
	if r.NewDigest == nil {
		return ""
	}

	return string(*r.NewDigest)
}
