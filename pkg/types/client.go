package types

import (
	"context"
	"time"
)

// RuntimeClient is the capability surface the update engine needs from a
// container runtime.
//
// Implementations translate runtime failures into errors and never retry on
// their own. Timeouts passed in are hard bounds; exceeding one is an error.
type RuntimeClient interface {
	// InspectContainer captures the container's configuration and the image
	// it is actually running, with that image's digest for its repository.
	InspectContainer(ctx context.Context, ref ContainerRef) (Snapshot, error)

	// ResolveRemoteDigest asks the registry which digest it serves for
	// repository:tag without pulling the image.
	ResolveRemoteDigest(ctx context.Context, repository, tag string) (Digest, error)

	// PullImage fetches repository:tag and returns the resulting local image.
	PullImage(ctx context.Context, repository, tag string) (ImageReference, error)

	// StopContainer stops the container gracefully within timeout.
	StopContainer(ctx context.Context, ref ContainerRef, timeout time.Duration) error

	// RemoveContainer removes a stopped container, keeping its volumes.
	RemoveContainer(ctx context.Context, ref ContainerRef) error

	// CreateContainer creates a container from snapshot running image.
	CreateContainer(ctx context.Context, snapshot Snapshot, image ImageReference) (ContainerRef, error)

	// StartContainer starts a created container.
	StartContainer(ctx context.Context, ref ContainerRef) error

	// WaitRunning blocks until the container is running, or fails once it
	// exits, turns unhealthy or timeout passes.
	WaitRunning(ctx context.Context, ref ContainerRef, timeout time.Duration) error

	// ResolveLocalImage returns the local image repository:tag points at.
	ResolveLocalImage(ctx context.Context, repository, tag string) (ImageReference, error)

	// TagImage points repository:tag at a local image.
	TagImage(ctx context.Context, id ImageID, repository, tag string) error

	// ListContainers lists running containers, restricted to those carrying
	// label=true when label is not empty.
	ListContainers(ctx context.Context, label string) ([]ContainerRef, error)
}

// HistoryStore persists update records.
type HistoryStore interface {
	Append(ctx context.Context, record *UpdateRecord) error
	QueryByContainer(ctx context.Context, id ContainerID, limit int) ([]UpdateRecord, error)
}

// LineageStore tracks managed images and their tag transitions.
type LineageStore interface {
	Refresh(ctx context.Context, image ManagedImage) error
	RecordTagTransition(ctx context.Context, id ImageID, oldTag string) error
	ListDangling(ctx context.Context) ([]ManagedImage, error)
}

// Notifier delivers finished update records to operators.
type Notifier interface {
	Notify(record UpdateRecord)
}
