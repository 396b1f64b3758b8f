// Package digest resolves the manifest digest a registry serves for a tag
// without pulling the image.
//
// A HEAD request on the manifest is tried first since it does not count
// against most registries' pull rate limits. When the registry does not
// answer HEAD with a digest, a GET is issued and the digest is taken from
// the response header or computed over the manifest body.
package digest

import (
	"context"
	_ "crypto/sha256" // registers the canonical digest algorithm
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagekeeper/pkg/registry/auth"
	"github.com/nicholas-fedor/imagekeeper/pkg/registry/helpers"
	"github.com/nicholas-fedor/imagekeeper/pkg/registry/manifest"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// ContentDigestHeader is the HTTP header carrying a manifest's digest.
const ContentDigestHeader = "Docker-Content-Digest"

// ManifestAccept lists the manifest media types accepted from registries.
const ManifestAccept = "application/vnd.oci.image.index.v1+json, " +
	"application/vnd.docker.distribution.manifest.list.v2+json, " +
	"application/vnd.oci.image.manifest.v1+json, " +
	"application/vnd.docker.distribution.manifest.v2+json"

// maxManifestBytes caps the manifest body read by the GET fallback.
const maxManifestBytes = 4 << 20

// Errors for digest retrieval operations.
var (
	// errInvalidRegistryResponse indicates a response without a usable digest.
	errInvalidRegistryResponse = errors.New("registry response carried no digest")
	// errUnexpectedStatus indicates a non-success status from the registry.
	errUnexpectedStatus = errors.New("unexpected registry status")
	// errInvalidDigest indicates a digest that failed validation.
	errInvalidDigest = errors.New("registry returned an invalid digest")
	// errFailedGetToken indicates authentication with the registry failed.
	errFailedGetToken = errors.New("failed to get token")
	// errFailedBuildManifestURL indicates the manifest URL could not be built.
	errFailedBuildManifestURL = errors.New("failed to build manifest URL")
	// errFailedExecuteRequest indicates the manifest request failed.
	errFailedExecuteRequest = errors.New("failed to execute request")
)

// AuthFunc returns encoded registry credentials for an image name, or an
// empty string for anonymous access.
type AuthFunc func(imageName string) (string, error)

// Resolver looks up remote manifest digests.
type Resolver struct {
	Client *http.Client
	Scheme string
	Auth   AuthFunc
}

// NewResolver creates a Resolver that talks HTTPS and uses auth for
// credentials.
func NewResolver(auth AuthFunc) *Resolver {
	return &Resolver{
		Client: &http.Client{},
		Scheme: "https",
		Auth:   auth,
	}
}

// Resolve returns the digest the registry serves for repository:tag.
//
// Parameters:
//   - ctx: Context bounding all registry requests.
//   - repository: Repository in familiar or fully qualified form.
//   - tag: Tag to resolve.
//
// Returns:
//   - types.Digest: Validated manifest digest.
//   - error: Non-nil on network, authentication, status or validation failure.
func (r *Resolver) Resolve(ctx context.Context, repository, tag string) (types.Digest, error) {
	imageName := helpers.ImageName(repository, tag)
	fields := logrus.Fields{"image": imageName}

	manifestURL, err := manifest.BuildManifestURL(repository, tag, r.Scheme)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errFailedBuildManifestURL, err)
	}

	registryAuth := ""

	if r.Auth != nil {
		registryAuth, err = r.Auth(imageName)
		if err != nil {
			logrus.WithError(err).WithFields(fields).Debug("No registry credentials, continuing anonymously")

			registryAuth = ""
		}
	}

	token, err := auth.GetToken(ctx, r.Client, imageName, auth.TransformAuth(registryAuth), r.Scheme)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errFailedGetToken, err)
	}

	remote, err := r.fetch(ctx, http.MethodHead, manifestURL, token)
	if err != nil {
		return "", err
	}

	if remote == "" {
		logrus.WithFields(fields).Debug("HEAD request returned no digest, falling back to GET")

		remote, err = r.fetch(ctx, http.MethodGet, manifestURL, token)
		if err != nil {
			return "", err
		}
	}

	logrus.WithFields(fields).WithField("remote_digest", remote).Debug("Resolved remote digest")

	return remote, nil
}

// fetch issues one manifest request. A HEAD that is not answered with a
// digest returns an empty digest and no error so the caller can retry with
// GET.
func (r *Resolver) fetch(ctx context.Context, method, manifestURL, token string) (types.Digest, error) {
	req, err := http.NewRequestWithContext(ctx, method, manifestURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errFailedExecuteRequest, err)
	}

	if token != "" {
		req.Header.Set("Authorization", token)
	}

	req.Header.Set("Accept", ManifestAccept)
	req.Header.Set("User-Agent", auth.UserAgent)

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errFailedExecuteRequest, redact(err))
	}
	defer resp.Body.Close()

	logrus.WithFields(logrus.Fields{
		"method": method,
		"url":    manifestURL,
		"status": resp.Status,
	}).Debug("Registry answered manifest request")

	if method == http.MethodHead {
		if resp.StatusCode != http.StatusOK || resp.Header.Get(ContentDigestHeader) == "" {
			return "", nil
		}

		return parse(resp.Header.Get(ContentDigestHeader))
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", errUnexpectedStatus, resp.Status)
	}

	if header := resp.Header.Get(ContentDigestHeader); header != "" {
		return parse(header)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidRegistryResponse, err)
	}

	if len(body) == 0 {
		return "", errInvalidRegistryResponse
	}

	return digest.FromBytes(body), nil
}

// parse validates a digest string received from a registry.
func parse(raw string) (types.Digest, error) {
	d, err := digest.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", errInvalidDigest, raw, err)
	}

	return d, nil
}

// redact drops the request URL from transport errors, which may carry
// query-string credentials.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}

	return err
}
