package types

import (
	"strings"

	dockerContainer "github.com/docker/docker/api/types/container"
	dockerMount "github.com/docker/docker/api/types/mount"
	dockerNetwork "github.com/docker/docker/api/types/network"
)

// ImageID is a hash string for a container image.
type ImageID string

// ContainerID is a hash string for a container instance.
type ContainerID string

// ShortID returns the 12-character short version of an image ID.
//
// Returns:
//   - string: Shortened ID without "sha256:" prefix.
func (id ImageID) ShortID() string {
	return shortID(string(id))
}

// ShortID returns the 12-character short version of a container ID.
//
// Returns:
//   - string: Shortened ID without "sha256:" prefix.
func (id ContainerID) ShortID() string {
	return shortID(string(id))
}

// shortID shortens a hash string to 12 characters, skipping a "sha256:" prefix.
func shortID(longID string) string {
	prefixSep := strings.IndexRune(longID, ':')
	offset := 0
	length := 12

	if prefixSep >= 0 {
		if longID[0:prefixSep] == "sha256" {
			offset = prefixSep + 1
		} else {
			length += prefixSep + 1
		}
	}

	if len(longID) >= offset+length {
		return longID[offset : offset+length]
	}

	return longID
}

// EnableLabel opts a container into scheduled updates when label filtering is on.
const EnableLabel = "imagekeeper.enable"

// ContainerRef identifies a container by its runtime id and human name.
//
// Either field may be empty when supplied by a caller. The name survives
// recreation while the id does not.
type ContainerRef struct {
	ID   ContainerID
	Name string
}

// String returns the name when known, otherwise the short id.
func (r ContainerRef) String() string {
	if r.Name != "" {
		return r.Name
	}

	return r.ID.ShortID()
}

// Key returns the identifier used to address the container in the runtime.
func (r ContainerRef) Key() string {
	if r.ID != "" {
		return string(r.ID)
	}

	return r.Name
}

// IsZero reports whether neither id nor name is set.
func (r ContainerRef) IsZero() bool {
	return r.ID == "" && r.Name == ""
}

// Snapshot is the runtime configuration of a container captured before mutation.
//
// The create triple has image defaults removed so a container recreated from
// it with a different image picks up that image's defaults instead.
type Snapshot struct {
	Container        ContainerRef
	Image            ImageReference
	Running          bool
	Config           *dockerContainer.Config
	HostConfig       *dockerContainer.HostConfig
	NetworkingConfig *dockerNetwork.NetworkingConfig
}

// Env returns the environment overrides carried by the snapshot.
func (s Snapshot) Env() []string {
	if s.Config == nil {
		return nil
	}

	return s.Config.Env
}

// Labels returns the container labels carried by the snapshot.
func (s Snapshot) Labels() map[string]string {
	if s.Config == nil {
		return nil
	}

	return s.Config.Labels
}

// Mounts returns bind mounts in "source:target[:mode]" form followed by
// explicit mounts rendered as "source:target".
func (s Snapshot) Mounts() []string {
	if s.HostConfig == nil {
		return nil
	}

	mounts := append([]string{}, s.HostConfig.Binds...)
	for _, m := range s.HostConfig.Mounts {
		if m.Type == dockerMount.TypeTmpfs {
			mounts = append(mounts, "tmpfs:"+m.Target)

			continue
		}

		mounts = append(mounts, m.Source+":"+m.Target)
	}

	return mounts
}

// Networks returns the names of the networks the container is attached to.
func (s Snapshot) Networks() []string {
	if s.NetworkingConfig == nil {
		return nil
	}

	names := make([]string, 0, len(s.NetworkingConfig.EndpointsConfig))
	for name := range s.NetworkingConfig.EndpointsConfig {
		names = append(names, name)
	}

	return names
}

// Ports returns published ports as "hostIP:hostPort->containerPort/proto".
func (s Snapshot) Ports() []string {
	if s.HostConfig == nil {
		return nil
	}

	var ports []string

	for containerPort, bindings := range s.HostConfig.PortBindings {
		for _, binding := range bindings {
			ports = append(ports, binding.HostIP+":"+binding.HostPort+"->"+string(containerPort))
		}
	}

	return ports
}

// RestartPolicy returns the restart policy mode, empty when unset.
func (s Snapshot) RestartPolicy() string {
	if s.HostConfig == nil {
		return ""
	}

	return string(s.HostConfig.RestartPolicy.Name)
}
