package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
)

// Digest is the content-addressed identity of an image manifest.
type Digest = digest.Digest

var (
	// errInvalidImageReference indicates an image name that cannot be parsed.
	errInvalidImageReference = errors.New("invalid image reference")
	// ErrPinnedImage indicates an image referenced by digest instead of tag.
	ErrPinnedImage = errors.New("image is pinned by digest")
)

// ImageReference names an image by repository and tag, with its resolved digest
// and local image id when known.
type ImageReference struct {
	Repository string
	Tag        string
	Digest     Digest
	ID         ImageID
}

// String renders the reference as "repository:tag".
func (r ImageReference) String() string {
	if r.Tag == "" {
		return r.Repository
	}

	return r.Repository + ":" + r.Tag
}

// Pinned reports whether the reference has no tag to follow.
func (r ImageReference) Pinned() bool {
	return r.Tag == ""
}

// SameArtifact reports whether both references carry the same digest.
func (r ImageReference) SameArtifact(other ImageReference) bool {
	return SameDigest(r.Digest, other.Digest)
}

// SameDigest compares two digests case-insensitively. Empty digests never match.
func SameDigest(a, b Digest) bool {
	if a == "" || b == "" {
		return false
	}

	return strings.EqualFold(string(a), string(b))
}

// ParseImageReference parses an image name as written in a container config.
//
// Untagged names default to "latest". Digest-pinned names keep their digest
// and an empty tag.
//
// Parameters:
//   - name: Image name such as "nginx:1.25" or "ghcr.io/org/app@sha256:...".
//
// Returns:
//   - ImageReference: Repository in familiar form, tag and optional digest.
//   - error: Non-nil if the name cannot be parsed.
func ParseImageReference(name string) (ImageReference, error) {
	named, err := reference.ParseNormalizedNamed(name)
	if err != nil {
		return ImageReference{}, fmt.Errorf("%w: %q: %w", errInvalidImageReference, name, err)
	}

	ref := ImageReference{Repository: reference.FamiliarName(named)}

	if canonical, ok := named.(reference.Canonical); ok {
		ref.Digest = canonical.Digest()

		return ref, nil
	}

	ref.Tag = "latest"
	if tagged, ok := named.(reference.Tagged); ok {
		ref.Tag = tagged.Tag()
	}

	return ref, nil
}

// RepoDigest picks the digest recorded for repository out of an image's
// "repo@sha256:..." entries.
//
// Parameters:
//   - repository: Repository to match, in any normalized or familiar form.
//   - repoDigests: Entries as reported by the runtime for an image.
//
// Returns:
//   - Digest: Matching digest, or empty if none matches.
func RepoDigest(repository string, repoDigests []string) Digest {
	want, err := reference.ParseNormalizedNamed(repository)
	if err != nil {
		return ""
	}

	for _, entry := range repoDigests {
		named, err := reference.ParseNormalizedNamed(entry)
		if err != nil {
			continue
		}

		canonical, ok := named.(reference.Canonical)
		if !ok {
			continue
		}

		if named.Name() == want.Name() {
			return canonical.Digest()
		}
	}

	return ""
}
