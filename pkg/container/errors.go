package container

import (
	"errors"
)

// Errors for client setup in client.go.
var (
	// errInitClientFailed indicates the Docker API client could not be created.
	errInitClientFailed = errors.New("failed to initialize Docker client")
)

// Errors for container operations in container_source.go.
var (
	// errListContainersFailed indicates a failure to list containers from the Docker host.
	errListContainersFailed = errors.New("failed to list containers")
	// errInspectContainerFailed indicates a failure to inspect a container’s details.
	errInspectContainerFailed = errors.New("failed to inspect container")
	// errStopContainerFailed indicates a failure to signal a container to stop.
	errStopContainerFailed = errors.New("failed to stop container")
	// errStopTimeout indicates a container was still running when the stop timeout passed.
	errStopTimeout = errors.New("container did not stop within timeout")
	// errRemoveContainerFailed indicates a failure to remove a container from the host.
	errRemoveContainerFailed = errors.New("failed to remove container")
)

// Errors for container creation and start in container_target.go.
var (
	// errCreateContainerFailed indicates a failure to create a new container.
	errCreateContainerFailed = errors.New("failed to create container")
	// errAttachNetworkFailed indicates a failure to connect a new container to a network.
	errAttachNetworkFailed = errors.New("failed to attach network")
	// errStartContainerFailed indicates a failure to start a created container.
	errStartContainerFailed = errors.New("failed to start container")
	// errWaitTimeout indicates a container did not reach a running state in time.
	errWaitTimeout = errors.New("timeout waiting for container to run")
	// errContainerExited indicates a container exited while waiting for it to run.
	errContainerExited = errors.New("container exited")
	// errHealthCheckFailed indicates that a container’s health check failed.
	errHealthCheckFailed = errors.New("container health check failed")
)

// Errors for snapshot construction in container.go.
var (
	// errInvalidConfig indicates the inspected container lacks the configuration needed for recreation.
	errInvalidConfig = errors.New("invalid container configuration")
	// errNoSnapshotImage indicates a create request without a tagged or pinned image.
	errNoSnapshotImage = errors.New("no image to create container from")
)

// Errors for image operations in image.go.
var (
	// errInspectImageFailed indicates a failure to inspect an image from the Docker daemon.
	errInspectImageFailed = errors.New("failed to inspect image")
	// errPullImageFailed indicates a failure to pull an image from the registry.
	errPullImageFailed = errors.New("failed to pull image")
	// errReadPullResponseFailed indicates a failure reported in the pull response stream.
	errReadPullResponseFailed = errors.New("failed to read pull response")
	// errTagImageFailed indicates a failure to point a tag at an image.
	errTagImageFailed = errors.New("failed to tag image")
	// errResolveDigestFailed indicates the registry digest lookup failed.
	errResolveDigestFailed = errors.New("failed to resolve remote digest")
)
