package registry

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	dockerCliConfig "github.com/docker/cli/cli/config"
	dockerConfigConfigfile "github.com/docker/cli/cli/config/configfile"
	dockerConfigCredentials "github.com/docker/cli/cli/config/credentials"
	dockerConfigTypes "github.com/docker/cli/cli/config/types"

	"github.com/nicholas-fedor/imagekeeper/pkg/registry/helpers"
)

// Errors for registry authentication operations.
var (
	// errUnsetRegAuthVars indicates REPO_USER and REPO_PASS are not set.
	errUnsetRegAuthVars = errors.New(
		"registry auth environment variables (REPO_USER, REPO_PASS) not set",
	)
	// errFailedGetRegistryAddress indicates the registry address could not be derived.
	errFailedGetRegistryAddress = errors.New("failed to get registry address")
	// errFailedLoadDockerConfig indicates the Docker configuration file could not be loaded.
	errFailedLoadDockerConfig = errors.New("failed to load Docker config")
	// errFailedMarshalAuthConfig indicates the auth config could not be encoded.
	errFailedMarshalAuthConfig = errors.New("failed to marshal auth config to JSON")
)

// EncodedAuth returns encoded credentials for ref, preferring REPO_USER and
// REPO_PASS and falling back to the Docker config file.
func EncodedAuth(ref string) (string, error) {
	fields := logrus.Fields{"image_ref": ref}

	auth, err := EncodedEnvAuth()
	if err != nil {
		logrus.WithError(err).WithFields(fields).Debug("Environment auth not available, trying config file")

		auth, err = EncodedConfigAuth(ref)
	}

	if err == nil && auth != "" {
		logrus.WithFields(fields).Debug("Retrieved auth credentials")
	}

	return auth, err
}

// EncodedEnvAuth encodes REPO_USER and REPO_PASS, or fails when either is unset.
func EncodedEnvAuth() (string, error) {
	username := os.Getenv("REPO_USER")
	password := os.Getenv("REPO_PASS")

	if username == "" || password == "" {
		return "", errUnsetRegAuthVars
	}

	logrus.WithField("username", username).Debug("Loaded auth credentials from environment")

	return EncodeAuth(dockerConfigTypes.AuthConfig{
		Username: username,
		Password: password,
	})
}

// EncodedConfigAuth reads credentials for imageRef's registry from the Docker
// config in DOCKER_CONFIG, or the user's default Docker config directory.
// It returns an empty string when no credentials are stored.
func EncodedConfigAuth(imageRef string) (string, error) {
	fields := logrus.Fields{"image_ref": imageRef}

	server, err := helpers.GetRegistryAddress(imageRef)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errFailedGetRegistryAddress, err)
	}

	configDir := os.Getenv("DOCKER_CONFIG")
	if configDir == "" {
		configDir = dockerCliConfig.Dir()
	}

	configFile, err := dockerCliConfig.Load(configDir)
	if err != nil {
		logrus.WithError(err).WithFields(fields).WithField("config_dir", configDir).
			Debug("Failed to load Docker config")

		return "", fmt.Errorf("%w: %w", errFailedLoadDockerConfig, err)
	}

	credStore := CredentialsStore(*configFile)
	auth, _ := credStore.Get(server)

	if auth == (dockerConfigTypes.AuthConfig{}) {
		logrus.WithFields(fields).WithFields(logrus.Fields{
			"server":      server,
			"config_file": configFile.Filename,
		}).Debug("No credentials found in config")

		return "", nil
	}

	logrus.WithFields(fields).WithFields(logrus.Fields{
		"username":    auth.Username,
		"server":      server,
		"config_file": configFile.Filename,
	}).Debug("Loaded auth credentials from config")

	return EncodeAuth(auth)
}

// CredentialsStore returns the native store named by the config, or the
// config file itself when none is configured.
func CredentialsStore(configFile dockerConfigConfigfile.ConfigFile) dockerConfigCredentials.Store {
	if configFile.CredentialsStore != "" {
		return dockerConfigCredentials.NewNativeStore(&configFile, configFile.CredentialsStore)
	}

	return dockerConfigCredentials.NewFileStore(&configFile)
}

// EncodeAuth base64-url encodes an AuthConfig as the Docker API expects.
func EncodeAuth(authConfig dockerConfigTypes.AuthConfig) (string, error) {
	buf, err := json.Marshal(authConfig)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errFailedMarshalAuthConfig, err)
	}

	return base64.URLEncoding.EncodeToString(buf), nil
}
