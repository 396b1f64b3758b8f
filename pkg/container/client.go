package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	dockerContainer "github.com/docker/docker/api/types/container"
	dockerFilters "github.com/docker/docker/api/types/filters"
	dockerImage "github.com/docker/docker/api/types/image"
	dockerNetwork "github.com/docker/docker/api/types/network"
	dockerClient "github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/nicholas-fedor/imagekeeper/pkg/registry"
	registryDigest "github.com/nicholas-fedor/imagekeeper/pkg/registry/digest"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// Defaults applied by NewClient and NewClientWithAPI.
const (
	defaultStopSignal   = "SIGTERM"
	defaultPollInterval = time.Second
)

// API is the subset of the Docker Engine client used by Client.
type API interface {
	ContainerList(ctx context.Context, options dockerContainer.ListOptions) ([]dockerContainer.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (dockerContainer.InspectResponse, error)
	ContainerCreate(
		ctx context.Context,
		config *dockerContainer.Config,
		hostConfig *dockerContainer.HostConfig,
		networkingConfig *dockerNetwork.NetworkingConfig,
		platform *ocispec.Platform,
		containerName string,
	) (dockerContainer.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options dockerContainer.StartOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options dockerContainer.RemoveOptions) error
	NetworkConnect(ctx context.Context, networkID, containerID string, config *dockerNetwork.EndpointSettings) error
	ImageInspect(
		ctx context.Context,
		imageID string,
		inspectOpts ...dockerClient.ImageInspectOption,
	) (dockerImage.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options dockerImage.PullOptions) (io.ReadCloser, error)
	ImageTag(ctx context.Context, source, target string) error
	ClientVersion() string
}

// DigestResolver resolves the digest a registry serves for a tag.
type DigestResolver interface {
	Resolve(ctx context.Context, repository, tag string) (types.Digest, error)
}

// ClientOptions configures the Docker-backed runtime client.
type ClientOptions struct {
	// StopSignal is sent when the container does not define its own.
	StopSignal string
	// PollInterval spaces state checks while waiting on a container.
	PollInterval time.Duration
	// Resolver looks up remote digests. Defaults to an HTTPS registry
	// resolver using Docker credentials.
	Resolver DigestResolver
}

// Client implements types.RuntimeClient against the Docker Engine API.
type Client struct {
	api          API
	stopSignal   string
	pollInterval time.Duration
	resolver     DigestResolver
}

var _ types.RuntimeClient = (*Client)(nil)

// NewClient connects to the Docker daemon described by the environment.
//
// It negotiates the API version unless DOCKER_API_VERSION forces one that
// the daemon accepts.
//
// Parameters:
//   - opts: Options to customize container management behavior.
//
// Returns:
//   - *Client: Initialized client.
//   - error: Non-nil if the Docker client cannot be created.
func NewClient(opts ClientOptions) (*Client, error) {
	ctx := context.Background()

	cli, err := dockerClient.NewClientWithOpts(
		dockerClient.FromEnv,
		dockerClient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInitClientFailed, err)
	}

	// Apply forced API version if set and valid.
	if version := strings.Trim(os.Getenv("DOCKER_API_VERSION"), "\""); version != "" {
		pinned, err := dockerClient.NewClientWithOpts(
			dockerClient.FromEnv,
			dockerClient.WithVersion(version),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errInitClientFailed, err)
		}

		if _, err := pinned.Ping(ctx); err != nil && strings.Contains(err.Error(), "page not found") {
			logrus.WithFields(logrus.Fields{
				"version":  version,
				"error":    err,
				"endpoint": "/_ping",
			}).Warn("Invalid API version; falling back to autonegotiation")
			cli.NegotiateAPIVersion(ctx)
		} else {
			cli = pinned
		}
	} else {
		cli.NegotiateAPIVersion(ctx)
	}

	if serverVersion, err := cli.ServerVersion(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"error":    err,
			"endpoint": "/version",
		}).Warn("Failed to retrieve server version")
	} else {
		logrus.WithFields(logrus.Fields{
			"client_version": cli.ClientVersion(),
			"server_version": serverVersion.APIVersion,
		}).Debug("Initialized Docker client")
	}

	return NewClientWithAPI(cli, opts), nil
}

// NewClientWithAPI wraps an existing Docker API connection.
func NewClientWithAPI(api API, opts ClientOptions) *Client {
	if opts.StopSignal == "" {
		opts.StopSignal = defaultStopSignal
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	if opts.Resolver == nil {
		opts.Resolver = registryDigest.NewResolver(registry.EncodedAuth)
	}

	return &Client{
		api:          api,
		stopSignal:   opts.StopSignal,
		pollInterval: opts.PollInterval,
		resolver:     opts.Resolver,
	}
}

// GetVersion returns the Docker API version the client speaks.
func (c *Client) GetVersion() string {
	return c.api.ClientVersion()
}

// ListContainers returns running containers, optionally restricted to those
// with label set to "true".
func (c *Client) ListContainers(ctx context.Context, label string) ([]types.ContainerRef, error) {
	args := dockerFilters.NewArgs(dockerFilters.Arg("status", "running"))
	if label != "" {
		args.Add("label", label+"=true")
	}

	summaries, err := c.api.ContainerList(ctx, dockerContainer.ListOptions{Filters: args})
	if err != nil {
		logrus.WithError(err).Debug("Failed to list containers")

		return nil, fmt.Errorf("%w: %w", errListContainersFailed, err)
	}

	refs := make([]types.ContainerRef, 0, len(summaries))
	for _, summary := range summaries {
		ref := types.ContainerRef{ID: types.ContainerID(summary.ID)}
		if len(summary.Names) > 0 {
			ref.Name = strings.TrimPrefix(summary.Names[0], "/")
		}

		refs = append(refs, ref)
	}

	logrus.WithField("count", len(refs)).Debug("Listed containers")

	return refs, nil
}

// ResolveRemoteDigest asks the registry for the digest behind repository:tag.
func (c *Client) ResolveRemoteDigest(ctx context.Context, repository, tag string) (types.Digest, error) {
	if tag == "" {
		return "", types.ErrPinnedImage
	}

	remote, err := c.resolver.Resolve(ctx, repository, tag)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errResolveDigestFailed, err)
	}

	return remote, nil
}

// poll runs check until it reports done, it fails, or timeout passes.
// Expiry of timeout yields onTimeout; cancellation of ctx yields its error.
func (c *Client) poll(
	ctx context.Context,
	timeout time.Duration,
	onTimeout error,
	check func(ctx context.Context) (bool, error),
) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		done, err := check(waitCtx)

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case waitCtx.Err() != nil && (err != nil || !done):
			return onTimeout
		case err != nil:
			return err
		case done:
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return onTimeout
		case <-ticker.C:
		}
	}
}
