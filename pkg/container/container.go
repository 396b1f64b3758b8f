package container

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"

	dockerContainer "github.com/docker/docker/api/types/container"
	dockerImage "github.com/docker/docker/api/types/image"
	dockerMount "github.com/docker/docker/api/types/mount"
	dockerNetwork "github.com/docker/docker/api/types/network"

	"github.com/nicholas-fedor/imagekeeper/internal/util"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// Constants for container operations.
const (
	linkPartsCount = 2 // Number of parts expected in a link (name:alias)
)

// anonymousVolumeName matches the generated names of anonymous volumes.
var anonymousVolumeName = regexp.MustCompile(`^[0-9a-f]{64}$`)

// newSnapshot captures a recreatable configuration from inspect output.
//
// Parameters:
//   - info: Container inspect response.
//   - imageInfo: Inspect response of the image the container runs, or nil.
//   - image: Reference parsed from the container config with its digest.
//
// Returns:
//   - types.Snapshot: Snapshot with image defaults removed.
//   - error: Non-nil if the container lacks configuration.
func newSnapshot(
	info dockerContainer.InspectResponse,
	imageInfo *dockerImage.InspectResponse,
	image types.ImageReference,
) (types.Snapshot, error) {
	if info.ContainerJSONBase == nil || info.Config == nil || info.HostConfig == nil {
		return types.Snapshot{}, errInvalidConfig
	}

	ref := types.ContainerRef{
		ID:   types.ContainerID(info.ID),
		Name: strings.TrimPrefix(info.Name, "/"),
	}

	return types.Snapshot{
		Container:        ref,
		Image:            image,
		Running:          info.State != nil && info.State.Running,
		Config:           createConfig(info, imageInfo),
		HostConfig:       createHostConfig(info),
		NetworkingConfig: networkConfig(info),
	}, nil
}

// createConfig isolates runtime overrides from image defaults.
func createConfig(
	info dockerContainer.InspectResponse,
	imageInfo *dockerImage.InspectResponse,
) *dockerContainer.Config {
	clog := logrus.WithField("container", strings.TrimPrefix(info.Name, "/"))
	config := info.Config
	hostConfig := info.HostConfig

	if hostConfig.NetworkMode.IsContainer() || hostConfig.UTSMode != "" {
		config.Hostname = ""
	}

	// The daemon defaults the hostname to the short id, which the new
	// container must not inherit.
	if config.Hostname != "" && config.Hostname == types.ContainerID(info.ID).ShortID() {
		config.Hostname = ""
	}

	if len(hostConfig.PortBindings) > 0 && config.ExposedPorts == nil {
		config.ExposedPorts = make(nat.PortSet)
	}

	if imageInfo == nil || imageInfo.Config == nil {
		clog.Warn("No image info available, using container config as-is")

		return config
	}

	imageConfig := imageInfo.Config
	if config.WorkingDir == imageConfig.WorkingDir {
		config.WorkingDir = ""
	}

	if config.User == imageConfig.User {
		config.User = ""
	}

	if util.SliceEqual(config.Entrypoint, imageConfig.Entrypoint) {
		config.Entrypoint = nil
		if util.SliceEqual(config.Cmd, imageConfig.Cmd) {
			config.Cmd = nil
		}
	}

	if config.StopSignal == imageConfig.StopSignal {
		config.StopSignal = ""
	}

	// Clear HEALTHCHECK fields that match the image default.
	if config.Healthcheck != nil && imageConfig.Healthcheck != nil {
		if util.SliceEqual(config.Healthcheck.Test, imageConfig.Healthcheck.Test) {
			config.Healthcheck.Test = nil
		}

		if config.Healthcheck.Retries == imageConfig.Healthcheck.Retries {
			config.Healthcheck.Retries = 0
		}

		if config.Healthcheck.Interval == imageConfig.Healthcheck.Interval {
			config.Healthcheck.Interval = 0
		}

		if config.Healthcheck.Timeout == imageConfig.Healthcheck.Timeout {
			config.Healthcheck.Timeout = 0
		}

		if config.Healthcheck.StartPeriod == imageConfig.Healthcheck.StartPeriod {
			config.Healthcheck.StartPeriod = 0
		}
	}

	config.Env = util.SliceSubtract(config.Env, imageConfig.Env)
	config.Labels = util.StringMapSubtract(config.Labels, imageConfig.Labels)
	config.Volumes = util.StructMapSubtract(config.Volumes, imageConfig.Volumes)

	for port := range config.ExposedPorts {
		if _, ok := imageConfig.ExposedPorts[string(port)]; ok {
			delete(config.ExposedPorts, port)
		}
	}

	for port := range hostConfig.PortBindings {
		config.ExposedPorts[port] = struct{}{}
	}

	clog.WithField("image", config.Image).Debug("Generated create config")

	return config
}

// createHostConfig normalizes links and pins anonymous volumes so their data
// follows the container.
func createHostConfig(info dockerContainer.InspectResponse) *dockerContainer.HostConfig {
	clog := logrus.WithField("container", strings.TrimPrefix(info.Name, "/"))
	hostConfig := info.HostConfig

	for i, link := range hostConfig.Links {
		if !strings.Contains(link, ":") {
			clog.WithField("link", link).Warn("Invalid link format, expected 'name:alias'")

			continue
		}

		parts := strings.SplitN(link, ":", linkPartsCount)
		name := parts[0]
		alias := strings.TrimPrefix(parts[1], "/")
		hostConfig.Links[i] = fmt.Sprintf("%s:/%s", name, alias)
	}

	covered := make(map[string]bool, len(hostConfig.Binds)+len(hostConfig.Mounts))

	for _, bind := range hostConfig.Binds {
		if parts := strings.Split(bind, ":"); len(parts) >= linkPartsCount {
			covered[parts[1]] = true
		}
	}

	for _, m := range hostConfig.Mounts {
		covered[m.Target] = true
	}

	for _, point := range info.Mounts {
		if point.Type != dockerMount.TypeVolume || !anonymousVolumeName.MatchString(point.Name) ||
			covered[point.Destination] {
			continue
		}

		hostConfig.Mounts = append(hostConfig.Mounts, dockerMount.Mount{
			Type:     dockerMount.TypeVolume,
			Source:   point.Name,
			Target:   point.Destination,
			ReadOnly: !point.RW,
		})

		clog.WithFields(logrus.Fields{
			"volume":      types.ContainerID(point.Name).ShortID(),
			"destination": point.Destination,
		}).Debug("Preserved anonymous volume")
	}

	return hostConfig
}

// networkConfig copies the container's endpoints for recreation.
func networkConfig(info dockerContainer.InspectResponse) *dockerNetwork.NetworkingConfig {
	config := &dockerNetwork.NetworkingConfig{
		EndpointsConfig: make(map[string]*dockerNetwork.EndpointSettings),
	}

	if info.NetworkSettings == nil {
		return config
	}

	clog := logrus.WithField("container", strings.TrimPrefix(info.Name, "/"))
	shortID := types.ContainerID(info.ID).ShortID()

	for name, source := range info.NetworkSettings.Networks {
		if source == nil {
			clog.WithField("network", name).Warn("Nil endpoint in network settings")

			continue
		}

		target := source.Copy()
		target.Aliases = filterAliases(target.Aliases, shortID)
		target.DNSNames = filterAliases(target.DNSNames, shortID)

		config.EndpointsConfig[name] = target
		clog.WithFields(logrus.Fields{
			"network":     name,
			"mac_address": target.MacAddress,
			"ip_address":  target.IPAddress,
			"aliases":     target.Aliases,
		}).Debug("Preserved network config")
	}

	return config
}

// filterAliases removes the container’s short ID from the list of aliases.
func filterAliases(aliases []string, shortID string) []string {
	if len(aliases) == 0 {
		return aliases
	}

	result := make([]string, 0, len(aliases))

	for _, alias := range aliases {
		if alias != shortID {
			result = append(result, alias)
		}
	}

	return result
}

// legacyNetworkConfig strips fields API versions before 1.44 reject.
func legacyNetworkConfig(config *dockerNetwork.NetworkingConfig) *dockerNetwork.NetworkingConfig {
	legacy := &dockerNetwork.NetworkingConfig{
		EndpointsConfig: make(map[string]*dockerNetwork.EndpointSettings, len(config.EndpointsConfig)),
	}

	for name, endpoint := range config.EndpointsConfig {
		target := endpoint.Copy()
		target.MacAddress = ""
		target.DNSNames = nil
		legacy.EndpointsConfig[name] = target
	}

	return legacy
}
