package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/docker/api/types/image"
	"github.com/sirupsen/logrus"
)

// errFailedGetAuth indicates a failure to retrieve credentials for an image.
var errFailedGetAuth = errors.New("failed to get authentication credentials")

// GetPullOptions returns pull options carrying the credentials for imageName.
// Missing credentials are not an error; the pull is then anonymous.
func GetPullOptions(imageName string) (image.PullOptions, error) {
	fields := logrus.Fields{"image": imageName}

	auth, err := EncodedAuth(imageName)
	if err != nil {
		logrus.WithError(err).WithFields(fields).Debug("Failed to get authentication credentials")

		return image.PullOptions{}, fmt.Errorf("%w: %w", errFailedGetAuth, err)
	}

	if auth == "" {
		logrus.WithFields(fields).Debug("No authentication credentials found")

		return image.PullOptions{}, nil
	}

	return image.PullOptions{
		RegistryAuth:  auth,
		PrivilegeFunc: DefaultAuthHandler,
	}, nil
}

// DefaultAuthHandler is called when the daemon rejects the supplied
// credentials. It retries anonymously since resending the same credentials
// cannot succeed.
func DefaultAuthHandler(_ context.Context) (string, error) {
	logrus.Debug("Authentication rejected, retrying without credentials")

	return "", nil
}
