package container

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	cerrdefs "github.com/containerd/errdefs"
	dockerContainer "github.com/docker/docker/api/types/container"

	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// InspectContainer snapshots a container and the image it runs.
//
// The image digest is the repo digest recorded for the configured repository,
// or the pinned digest when the container references its image by digest.
//
// Parameters:
//   - ctx: Context for the inspect calls.
//   - ref: Container to inspect, by id or name.
//
// Returns:
//   - types.Snapshot: Recreatable snapshot.
//   - error: Non-nil if the container cannot be inspected or parsed.
func (c *Client) InspectContainer(ctx context.Context, ref types.ContainerRef) (types.Snapshot, error) {
	clog := logrus.WithField("container", ref)

	info, err := c.api.ContainerInspect(ctx, ref.Key())
	if err != nil {
		clog.WithError(err).Debug("Failed to inspect container")

		return types.Snapshot{}, fmt.Errorf("%w: %s: %w", errInspectContainerFailed, ref, err)
	}

	if info.ContainerJSONBase == nil || info.Config == nil {
		return types.Snapshot{}, fmt.Errorf("%w: %s", errInvalidConfig, ref)
	}

	image, err := types.ParseImageReference(info.Config.Image)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("%w: %s: %w", errInspectContainerFailed, ref, err)
	}

	image.ID = types.ImageID(info.Image)

	imageInfo, err := c.api.ImageInspect(ctx, info.Image)
	if err != nil {
		clog.WithError(err).WithField("image_id", image.ID.ShortID()).Debug("Failed to inspect image")

		return types.Snapshot{}, fmt.Errorf("%w: %s: %w", errInspectImageFailed, image.ID.ShortID(), err)
	}

	if image.Digest == "" {
		image.Digest = types.RepoDigest(image.Repository, imageInfo.RepoDigests)
	}

	snapshot, err := newSnapshot(info, &imageInfo, image)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("%w: %s", err, ref)
	}

	clog.WithFields(logrus.Fields{
		"id":      snapshot.Container.ID.ShortID(),
		"image":   image.String(),
		"digest":  image.Digest,
		"running": snapshot.Running,
	}).Debug("Captured container snapshot")

	return snapshot, nil
}

// StopContainer signals the container and waits until it is no longer running.
//
// The container's own stop signal wins over the client default. There is no
// escalation to SIGKILL: still running at timeout is an error.
//
// Parameters:
//   - ctx: Context for the stop.
//   - ref: Container to stop.
//   - timeout: Maximum time to wait for the container to exit.
//
// Returns:
//   - error: Non-nil if the signal fails or the container outlives timeout.
func (c *Client) StopContainer(ctx context.Context, ref types.ContainerRef, timeout time.Duration) error {
	clog := logrus.WithField("container", ref)

	info, err := c.api.ContainerInspect(ctx, ref.Key())
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			clog.Debug("Container already gone")

			return nil
		}

		return fmt.Errorf("%w: %s: %w", errStopContainerFailed, ref, err)
	}

	if info.State == nil || !info.State.Running {
		clog.Debug("Container not running, nothing to stop")

		return nil
	}

	signal := c.stopSignal
	if info.Config != nil && info.Config.StopSignal != "" {
		signal = info.Config.StopSignal
	}

	clog.WithField("signal", signal).Info("Stopping container")

	if err := c.api.ContainerKill(ctx, ref.Key(), signal); err != nil && !cerrdefs.IsNotFound(err) {
		clog.WithError(err).Debug("Failed to stop container")

		return fmt.Errorf("%w: %s: %w", errStopContainerFailed, ref, err)
	}

	err = c.poll(ctx, timeout, fmt.Errorf("%w: %s after %s", errStopTimeout, ref, timeout),
		func(ctx context.Context) (bool, error) {
			state, err := c.api.ContainerInspect(ctx, ref.Key())
			if err != nil {
				if cerrdefs.IsNotFound(err) {
					return true, nil
				}

				return false, fmt.Errorf("%w: %s: %w", errInspectContainerFailed, ref, err)
			}

			return state.State == nil || !state.State.Running, nil
		})
	if err != nil {
		clog.WithError(err).WithField("timeout", timeout).Debug("Container did not stop")

		return err
	}

	clog.Debug("Container stopped")

	return nil
}

// RemoveContainer removes a stopped container and keeps its volumes.
// A container that is already gone counts as removed.
func (c *Client) RemoveContainer(ctx context.Context, ref types.ContainerRef) error {
	clog := logrus.WithField("container", ref)
	clog.Debug("Removing container")

	err := c.api.ContainerRemove(ctx, ref.Key(), dockerContainer.RemoveOptions{})
	if err != nil && !cerrdefs.IsNotFound(err) {
		clog.WithError(err).Debug("Failed to remove container")

		return fmt.Errorf("%w: %s: %w", errRemoveContainerFailed, ref, err)
	}

	clog.Debug("Removed container")

	return nil
}
