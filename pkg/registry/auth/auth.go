// Package auth negotiates registry authentication for manifest requests.
// It follows the registry's WWW-Authenticate challenge with basic or bearer
// credentials.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/distribution/reference"
	"github.com/sirupsen/logrus"

	dockerConfigTypes "github.com/docker/cli/cli/config/types"

	"github.com/nicholas-fedor/imagekeeper/pkg/registry/helpers"
)

// ChallengeHeader is the HTTP Header containing challenge instructions.
const ChallengeHeader = "WWW-Authenticate"

// maxTokenResponseBytes caps the size of a token response body.
const maxTokenResponseBytes = 1 << 20

// UserAgent identifies imagekeeper to registries.
var UserAgent = "imagekeeper/unknown"

// Static errors for registry authentication failures.
var (
	errNoCredentials          = errors.New("no credentials available")
	errUnsupportedChallenge   = errors.New("unsupported challenge type from registry")
	errInvalidChallengeHeader = errors.New("challenge header did not include all values needed to construct an auth url")
	errTokenRequestFailed     = errors.New("token request failed")
	errEmptyToken             = errors.New("registry returned an empty token")
)

// TokenResponse is the body returned by a registry token endpoint.
type TokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"` //nolint:tagliatelle
}

// GetToken returns the Authorization header value needed to read imageName
// from its registry, or an empty string when the registry is open.
//
// Parameters:
//   - ctx: Context for the challenge and token requests.
//   - client: HTTP client used for registry requests.
//   - imageName: Image whose registry is challenged.
//   - registryAuth: Base64 "username:password", or empty for anonymous access.
//   - scheme: URL scheme of the registry.
//
// Returns:
//   - string: "Basic ..." or "Bearer ..." header value, or empty.
//   - error: Non-nil if the challenge cannot be satisfied.
func GetToken(
	ctx context.Context,
	client *http.Client,
	imageName, registryAuth, scheme string,
) (string, error) {
	normalizedRef, err := reference.ParseNormalizedNamed(imageName)
	if err != nil {
		return "", fmt.Errorf("failed to parse image name: %w", err)
	}

	challengeURL := GetChallengeURL(normalizedRef, scheme)
	logrus.WithField("url", challengeURL.String()).Debug("Built challenge URL")

	req, err := GetChallengeRequest(ctx, challengeURL)
	if err != nil {
		return "", err
	}

	res, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("challenge request failed: %w", err)
	}
	defer res.Body.Close()

	v := res.Header.Get(ChallengeHeader)

	logrus.WithFields(logrus.Fields{
		"status": res.Status,
		"header": v,
	}).Debug("Got response to challenge request")

	if v == "" && res.StatusCode < http.StatusBadRequest {
		return "", nil
	}

	challenge := strings.ToLower(v)
	if strings.HasPrefix(challenge, "basic") {
		if registryAuth == "" {
			return "", errNoCredentials
		}

		return "Basic " + registryAuth, nil
	}

	if strings.HasPrefix(challenge, "bearer") {
		return GetBearerHeader(ctx, client, v, normalizedRef, registryAuth)
	}

	return "", fmt.Errorf("%w: %q", errUnsupportedChallenge, v)
}

// GetChallengeRequest creates a request for getting challenge instructions.
func GetChallengeRequest(ctx context.Context, challengeURL url.URL) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, challengeURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge request: %w", err)
	}

	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", UserAgent)

	return req, nil
}

// GetBearerHeader fetches a bearer token as instructed by the challenge.
func GetBearerHeader(
	ctx context.Context,
	client *http.Client,
	challenge string,
	imageRef reference.Named,
	registryAuth string,
) (string, error) {
	authURL, err := GetAuthURL(challenge, imageRef)
	if err != nil {
		return "", err
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errTokenRequestFailed, err)
	}

	r.Header.Set("User-Agent", UserAgent)

	if registryAuth != "" {
		logrus.Debug("Credentials found")
		r.Header.Add("Authorization", "Basic "+registryAuth)
	} else {
		logrus.Debug("No credentials found")
	}

	authResponse, err := client.Do(r)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errTokenRequestFailed, err)
	}
	defer authResponse.Body.Close()

	if authResponse.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %s", errTokenRequestFailed, authResponse.Status)
	}

	body, err := io.ReadAll(io.LimitReader(authResponse.Body, maxTokenResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %w", errTokenRequestFailed, err)
	}

	tokenResponse := &TokenResponse{}
	if err := json.Unmarshal(body, tokenResponse); err != nil {
		return "", fmt.Errorf("%w: %w", errTokenRequestFailed, err)
	}

	token := tokenResponse.Token
	if token == "" {
		token = tokenResponse.AccessToken
	}

	if token == "" {
		return "", errEmptyToken
	}

	return "Bearer " + token, nil
}

// GetAuthURL constructs the token URL from the challenge's realm and
// service, scoped to pulling imageRef.
func GetAuthURL(challenge string, imageRef reference.Named) (*url.URL, error) {
	raw := challenge
	if len(raw) >= len("bearer") && strings.EqualFold(raw[:len("bearer")], "bearer") {
		raw = raw[len("bearer"):]
	}

	pairs := strings.Split(raw, ",")
	values := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		trimmed := strings.TrimSpace(pair)
		if key, val, ok := strings.Cut(trimmed, "="); ok {
			values[strings.ToLower(key)] = strings.Trim(val, `"`)
		}
	}

	logrus.WithFields(logrus.Fields{
		"realm":   values["realm"],
		"service": values["service"],
	}).Debug("Checking challenge header content")

	if values["realm"] == "" || values["service"] == "" {
		return nil, errInvalidChallengeHeader
	}

	authURL, err := url.Parse(values["realm"])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidChallengeHeader, err)
	}

	q := authURL.Query()
	q.Add("service", values["service"])

	scope := fmt.Sprintf("repository:%s:pull", reference.Path(imageRef))
	logrus.WithFields(logrus.Fields{"scope": scope, "image": imageRef.Name()}).Debug("Setting scope for auth token")
	q.Add("scope", scope)

	authURL.RawQuery = q.Encode()

	return authURL, nil
}

// GetChallengeURL returns the registry's /v2/ endpoint for imageRef.
func GetChallengeURL(imageRef reference.Named, scheme string) url.URL {
	host, _ := helpers.GetRegistryAddress(imageRef.Name())

	return url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   "/v2/",
	}
}

// TransformAuth converts an encoded docker AuthConfig into the base64
// "username:password" form used by HTTP basic authentication. Inputs that
// do not decode to credentials are returned unchanged.
func TransformAuth(registryAuth string) string {
	b, err := base64.URLEncoding.DecodeString(registryAuth)
	if err != nil {
		b, _ = base64.StdEncoding.DecodeString(registryAuth)
	}

	credentials := dockerConfigTypes.AuthConfig{}
	_ = json.Unmarshal(b, &credentials)

	if credentials.Username != "" && credentials.Password != "" {
		ba := fmt.Appendf(nil, "%s:%s", credentials.Username, credentials.Password)

		return base64.StdEncoding.EncodeToString(ba)
	}

	return registryAuth
}
