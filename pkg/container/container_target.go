package container

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/versions"
	"github.com/sirupsen/logrus"

	dockerContainer "github.com/docker/docker/api/types/container"
	dockerNetwork "github.com/docker/docker/api/types/network"

	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// minMultiNetworkVersion is the first API version that accepts several
// endpoints in a single create call.
const minMultiNetworkVersion = "1.44"

// CreateContainer creates a container from a snapshot, running image.
//
// The container keeps the snapshot's name. For API versions before 1.44 with
// several networks, it is created on one network and connected to the rest
// afterwards; a failed connect removes the half-built container.
//
// Parameters:
//   - ctx: Context for the create and connect calls.
//   - snapshot: Configuration to recreate.
//   - image: Image the new container runs.
//
// Returns:
//   - types.ContainerRef: The created container.
//   - error: Non-nil if creation or network attachment fails.
func (c *Client) CreateContainer(
	ctx context.Context,
	snapshot types.Snapshot,
	image types.ImageReference,
) (types.ContainerRef, error) {
	clog := logrus.WithFields(logrus.Fields{
		"container": snapshot.Container,
		"image":     image.String(),
	})

	if snapshot.Config == nil || snapshot.HostConfig == nil {
		return types.ContainerRef{}, fmt.Errorf("%w: %s", errInvalidConfig, snapshot.Container)
	}

	imageName := image.String()
	if image.Pinned() && image.Digest != "" {
		imageName = image.Repository + "@" + image.Digest.String()
	}

	if imageName == "" {
		return types.ContainerRef{}, errNoSnapshotImage
	}

	config := *snapshot.Config
	config.Image = imageName
	hostConfig := *snapshot.HostConfig

	networks := snapshot.NetworkingConfig
	if networks == nil {
		networks = &dockerNetwork.NetworkingConfig{}
	}

	legacy := versions.LessThan(c.api.ClientVersion(), minMultiNetworkVersion)
	if legacy {
		networks = legacyNetworkConfig(networks)
	}

	createNetworks := networks

	var initialNetwork string

	if legacy && len(networks.EndpointsConfig) > 1 {
		createNetworks = &dockerNetwork.NetworkingConfig{
			EndpointsConfig: make(map[string]*dockerNetwork.EndpointSettings, 1),
		}

		for name, endpoint := range networks.EndpointsConfig {
			initialNetwork = name
			createNetworks.EndpointsConfig[name] = endpoint

			break
		}

		clog.WithField("network", initialNetwork).Debug("Selected first network for container creation")
	}

	clog.Debug("Creating new container")

	created, err := c.api.ContainerCreate(ctx, &config, &hostConfig, createNetworks, nil, snapshot.Container.Name)
	if err != nil {
		clog.WithError(err).Debug("Failed to create new container")

		return types.ContainerRef{}, fmt.Errorf("%w: %s: %w", errCreateContainerFailed, snapshot.Container, err)
	}

	for _, warning := range created.Warnings {
		clog.WithField("warning", warning).Warn("Daemon warning while creating container")
	}

	ref := types.ContainerRef{ID: types.ContainerID(created.ID), Name: snapshot.Container.Name}
	clog.WithField("new_id", ref.ID.ShortID()).Debug("Created container successfully")

	if createNetworks != networks {
		if err := c.attachNetworks(ctx, ref, networks, initialNetwork, clog); err != nil {
			if rmErr := c.api.ContainerRemove(ctx, created.ID, dockerContainer.RemoveOptions{Force: true}); rmErr != nil {
				clog.WithError(rmErr).Warn("Failed to clean up container after network attachment error")
			}

			return types.ContainerRef{}, err
		}
	}

	return ref, nil
}

// attachNetworks connects the container to every network except the one it
// was created on.
func (c *Client) attachNetworks(
	ctx context.Context,
	ref types.ContainerRef,
	networks *dockerNetwork.NetworkingConfig,
	initialNetwork string,
	clog *logrus.Entry,
) error {
	for name, endpoint := range networks.EndpointsConfig {
		if name == initialNetwork || name == "" {
			continue
		}

		clog.WithField("network", name).Debug("Attaching additional network to container")

		if err := c.api.NetworkConnect(ctx, name, string(ref.ID), endpoint); err != nil {
			clog.WithError(err).WithField("network", name).Error("Failed to attach additional network")

			return fmt.Errorf("%w: %s: %w", errAttachNetworkFailed, name, err)
		}
	}

	return nil
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, ref types.ContainerRef) error {
	clog := logrus.WithFields(logrus.Fields{
		"container": ref,
		"id":        ref.ID.ShortID(),
	})

	if err := c.api.ContainerStart(ctx, ref.Key(), dockerContainer.StartOptions{}); err != nil {
		clog.WithError(err).Debug("Failed to start container")

		return fmt.Errorf("%w: %s: %w", errStartContainerFailed, ref, err)
	}

	clog.Info("Started container")

	return nil
}

// WaitRunning waits until the container runs and, if it has a health check,
// reports healthy.
//
// Parameters:
//   - ctx: Context for the wait.
//   - ref: Container to watch.
//   - timeout: Maximum time to wait.
//
// Returns:
//   - error: Non-nil if the container exits, turns unhealthy, cannot be
//     inspected or does not become ready within timeout.
func (c *Client) WaitRunning(ctx context.Context, ref types.ContainerRef, timeout time.Duration) error {
	clog := logrus.WithFields(logrus.Fields{
		"container": ref,
		"id":        ref.ID.ShortID(),
	})

	return c.poll(ctx, timeout, fmt.Errorf("%w: %s after %s", errWaitTimeout, ref, timeout),
		func(ctx context.Context) (bool, error) {
			info, err := c.api.ContainerInspect(ctx, ref.Key())
			if err != nil {
				clog.WithError(err).Debug("Failed to inspect container while waiting")

				return false, fmt.Errorf("%w: %s: %w", errInspectContainerFailed, ref, err)
			}

			state := info.State
			if state == nil {
				return false, nil
			}

			switch state.Status {
			case "exited", "dead":
				return false, fmt.Errorf("%w: %s with code %d", errContainerExited, ref, state.ExitCode)
			case "created", "restarting":
				return false, nil
			}

			if !state.Running {
				return false, nil
			}

			if state.Health == nil {
				clog.Debug("Container is running")

				return true, nil
			}

			clog.WithField("health_status", state.Health.Status).Debug("Checked container health status")

			switch state.Health.Status {
			case "healthy", "none":
				return true, nil
			case "unhealthy":
				clog.Warn("Container health check failed")

				return false, fmt.Errorf("%w: %s", errHealthCheckFailed, ref)
			default:
				return false, nil
			}
		})
}
