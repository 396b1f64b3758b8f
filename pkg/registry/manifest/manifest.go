// Package manifest builds registry manifest URLs for digest lookups.
package manifest

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/distribution/reference"
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagekeeper/pkg/registry/helpers"
)

// Errors for manifest operations.
var (
	// errMissingTag indicates the parsed image reference lacks a tag.
	errMissingTag = errors.New("parsed image reference has no tag")
	// errFailedParseImageName indicates a failure to parse the image name.
	errFailedParseImageName = errors.New("failed to parse image name")
)

// BuildManifestURL constructs the manifest URL of repository:tag.
//
// Parameters:
//   - repository: Repository in familiar or fully qualified form.
//   - tag: Tag to look up.
//   - scheme: URL scheme, "https" outside of tests.
//
// Returns:
//   - string: Manifest URL (e.g., "https://index.docker.io/v2/library/nginx/manifests/1.25").
//   - error: Non-nil if the reference cannot be parsed or has no tag.
func BuildManifestURL(repository, tag, scheme string) (string, error) {
	imageName := helpers.ImageName(repository, tag)
	fields := logrus.Fields{"image": imageName}

	normalizedRef, err := reference.ParseDockerRef(imageName)
	if err != nil {
		logrus.WithError(err).WithFields(fields).Debug("Failed to parse image name")

		return "", fmt.Errorf("%w: %w", errFailedParseImageName, err)
	}

	taggedRef, isTagged := normalizedRef.(reference.NamedTagged)
	if !isTagged {
		return "", fmt.Errorf("%w: %s", errMissingTag, normalizedRef.String())
	}

	host, err := helpers.GetRegistryAddress(taggedRef.Name())
	if err != nil {
		return "", fmt.Errorf("%w: %w", errFailedParseImageName, err)
	}

	manifestURL := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   fmt.Sprintf("/v2/%s/manifests/%s", reference.Path(taggedRef), taggedRef.Tag()),
	}

	logrus.WithFields(fields).WithField("url", manifestURL.String()).Debug("Built manifest URL")

	return manifestURL.String(), nil
}
