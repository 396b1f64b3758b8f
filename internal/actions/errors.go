package actions

import "errors"

// Errors classifying a failed update attempt. Every non-nil error returned by
// Applicator.Apply wraps exactly one of them, plus ErrPersistenceFailed when
// the audit write failed too.
var (
	// ErrSnapshotFailed indicates the container could not be inspected before mutation.
	ErrSnapshotFailed = errors.New("failed to snapshot container")
	// ErrPullFailed indicates the new image could not be pulled; the container is untouched.
	ErrPullFailed = errors.New("failed to pull image")
	// ErrStopFailed indicates the old container did not stop.
	ErrStopFailed = errors.New("failed to stop container")
	// ErrRemoveFailed indicates the stopped container could not be removed.
	ErrRemoveFailed = errors.New("failed to remove container")
	// ErrRecreateRecovered indicates the new container failed and the old one was restored.
	ErrRecreateRecovered = errors.New("update failed, previous container restored")
	// ErrRecreateUnrecoverable indicates both the new container and its recovery failed.
	ErrRecreateUnrecoverable = errors.New("update failed and previous container could not be restored")
	// ErrPersistenceFailed indicates the update record could not be written.
	ErrPersistenceFailed = errors.New("failed to persist update record")
	// ErrBusy indicates another operation holds the container's lock.
	ErrBusy = errors.New("container is busy with another operation")
)

// Internal errors.
var (
	// errNoLocalDigest indicates the running image has no repo digest to compare.
	errNoLocalDigest = errors.New("running image has no repository digest")
	// errResolveNameFailed indicates a container addressed by id could not be named.
	errResolveNameFailed = errors.New("failed to resolve container name")
	// errNewDigestUnknown indicates the recreated container's digest could not be read back.
	errNewDigestUnknown = errors.New("new container digest could not be verified")
	// errMissingDependency indicates a required collaborator was not supplied.
	errMissingDependency = errors.New("missing dependency")
	// errInvalidOption indicates an option value that cannot be used.
	errInvalidOption = errors.New("invalid option")
)
