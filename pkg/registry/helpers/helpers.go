// Package helpers provides registry address parsing shared by the registry packages.
package helpers

import (
	"fmt"

	"github.com/distribution/reference"
)

// Domains for Docker Hub, the default registry.
const (
	DefaultRegistryDomain       = "docker.io"
	DefaultRegistryHost         = "index.docker.io"
	LegacyDefaultRegistryDomain = "index.docker.io"
)

// GetRegistryAddress extracts the registry address from an image reference.
// Docker Hub's default domain maps to its canonical host address.
func GetRegistryAddress(imageRef string) (string, error) {
	normalizedRef, err := reference.ParseNormalizedNamed(imageRef)
	if err != nil {
		return "", fmt.Errorf("failed to parse image reference: %w", err)
	}

	address := reference.Domain(normalizedRef)
	if address == DefaultRegistryDomain {
		address = DefaultRegistryHost
	}

	return address, nil
}

// ImageName joins repository and tag into a pullable image name.
func ImageName(repository, tag string) string {
	if tag == "" {
		return repository
	}

	return repository + ":" + tag
}
