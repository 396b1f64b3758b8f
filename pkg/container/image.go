package container

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagekeeper/pkg/registry"
	"github.com/nicholas-fedor/imagekeeper/pkg/registry/helpers"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// PullImage pulls repository:tag and returns the local image it now names.
//
// The pull stream is read to completion; an error message inside the stream
// fails the pull even when the daemon answered 200.
//
// Parameters:
//   - ctx: Context for operation control.
//   - repository: Repository to pull.
//   - tag: Tag to pull; pinned images cannot be pulled by tag.
//
// Returns:
//   - types.ImageReference: Pulled image with id and digest.
//   - error: Non-nil if the pull or the follow-up inspect fails.
func (c *Client) PullImage(ctx context.Context, repository, tag string) (types.ImageReference, error) {
	imageName := helpers.ImageName(repository, tag)
	clog := logrus.WithField("image", imageName)

	if tag == "" {
		clog.Warn("Skipping pull of pinned image")

		return types.ImageReference{}, types.ErrPinnedImage
	}

	clog.Debug("Loading authentication credentials")

	opts, err := registry.GetPullOptions(imageName)
	if err != nil {
		clog.WithError(err).Debug("Failed to load authentication credentials")

		return types.ImageReference{}, fmt.Errorf("%w: %s: %w", errPullImageFailed, imageName, err)
	}

	clog.Debug("Initiating image pull")

	response, err := c.api.ImagePull(ctx, imageName, opts)
	if err != nil {
		clog.WithError(err).Debug("Failed to initiate image pull")

		return types.ImageReference{}, fmt.Errorf("%w: %s: %w", errPullImageFailed, imageName, err)
	}
	defer response.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(response, io.Discard, 0, false, nil); err != nil {
		clog.WithError(err).Debug("Failed to read image pull response")

		return types.ImageReference{}, fmt.Errorf("%w: %s: %w", errReadPullResponseFailed, imageName, err)
	}

	pulled, err := c.ResolveLocalImage(ctx, repository, tag)
	if err != nil {
		return types.ImageReference{}, err
	}

	clog.WithFields(logrus.Fields{
		"image_id": pulled.ID.ShortID(),
		"digest":   pulled.Digest,
	}).Info("Pulled image")

	return pulled, nil
}

// ResolveLocalImage inspects the local image repository:tag points at.
func (c *Client) ResolveLocalImage(ctx context.Context, repository, tag string) (types.ImageReference, error) {
	imageName := helpers.ImageName(repository, tag)

	info, err := c.api.ImageInspect(ctx, imageName)
	if err != nil {
		logrus.WithError(err).WithField("image", imageName).Debug("Failed to inspect image")

		return types.ImageReference{}, fmt.Errorf("%w: %s: %w", errInspectImageFailed, imageName, err)
	}

	return types.ImageReference{
		Repository: repository,
		Tag:        tag,
		Digest:     types.RepoDigest(repository, info.RepoDigests),
		ID:         types.ImageID(info.ID),
	}, nil
}

// TagImage points repository:tag at a local image.
func (c *Client) TagImage(ctx context.Context, id types.ImageID, repository, tag string) error {
	target := helpers.ImageName(repository, tag)
	clog := logrus.WithFields(logrus.Fields{
		"image_id": id.ShortID(),
		"image":    target,
	})

	if err := c.api.ImageTag(ctx, string(id), target); err != nil {
		clog.WithError(err).Debug("Failed to tag image")

		return fmt.Errorf("%w: %s: %w", errTagImageFailed, target, err)
	}

	clog.Debug("Tagged image")

	return nil
}
