package actions

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// Detector decides whether a container's image has a newer version in its
// registry. It never mutates the container and never writes history.
type Detector struct {
	deps Dependencies
}

// NewDetector creates a Detector.
//
// Parameters:
//   - deps: Collaborators; Runtime is required.
//
// Returns:
//   - *Detector: Ready detector.
//   - error: Non-nil if a required collaborator is missing.
func NewDetector(deps Dependencies) (*Detector, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}

	return &Detector{deps: deps}, nil
}

// Detect compares the digest a container is running with the digest its
// registry currently serves for the same tag.
//
// Detection holds the container's lock, so it never observes a container in
// the middle of an update. Any failure along the way, including a context that
// ends while waiting for the lock, yields a DetectionFailed verdict; that
// verdict is transient and is never persisted.
//
// Parameters:
//   - ctx: Context for runtime and registry calls.
//   - ref: Container to check, by name or id.
//
// Returns:
//   - types.Verdict: UpToDate, UpdateAvailable or DetectionFailed.
func (d *Detector) Detect(ctx context.Context, ref types.ContainerRef) types.Verdict {
	verdict := d.detect(ctx, ref)
	d.deps.Metrics.RecordDetection(verdict.Kind)

	clog := logrus.WithFields(logrus.Fields{
		"container": verdict.Container,
		"image":     verdict.Image.String(),
		"verdict":   verdict.Kind,
	})

	if verdict.Kind == types.DetectionFailed {
		clog.WithError(verdict.Reason).Warn("Update detection failed")
	} else {
		clog.WithFields(logrus.Fields{
			"local_digest":  verdict.OldDigest,
			"remote_digest": verdict.RemoteDigest,
		}).Debug("Update detection finished")
	}

	return verdict
}

func (d *Detector) detect(ctx context.Context, ref types.ContainerRef) types.Verdict {
	failed := func(err error) types.Verdict {
		return types.Verdict{Kind: types.DetectionFailed, Container: ref, Reason: err}
	}

	key, err := d.deps.lockKey(ctx, ref)
	if err != nil {
		return failed(err)
	}

	release, err := d.deps.lock(ctx, key)
	if err != nil {
		return failed(err)
	}
	defer release()

	snapshot, err := d.deps.Runtime.InspectContainer(ctx, ref)
	if err != nil {
		return failed(err)
	}

	verdict := types.Verdict{
		Container: snapshot.Container,
		Image:     snapshot.Image,
		OldDigest: snapshot.Image.Digest,
	}

	if snapshot.Image.Pinned() {
		verdict.Reason = types.ErrPinnedImage

		return verdict
	}

	if snapshot.Image.Digest == "" {
		verdict.Reason = fmt.Errorf("%w: %s", errNoLocalDigest, snapshot.Image)

		return verdict
	}

	d.refreshLineage(ctx, snapshot.Image)

	remote, err := d.deps.Runtime.ResolveRemoteDigest(ctx, snapshot.Image.Repository, snapshot.Image.Tag)
	if err != nil {
		verdict.Reason = err

		return verdict
	}

	verdict.RemoteDigest = remote
	verdict.Kind = types.UpdateAvailable

	if types.SameDigest(snapshot.Image.Digest, remote) {
		verdict.Kind = types.UpToDate
	}

	return verdict
}

// refreshLineage upserts the row of the image the tag points at locally,
// which is the running image unless someone retagged it by hand.
func (d *Detector) refreshLineage(ctx context.Context, running types.ImageReference) {
	if d.deps.Lineage == nil {
		return
	}

	clog := logrus.WithField("image", running.String())

	local, err := d.deps.Runtime.ResolveLocalImage(ctx, running.Repository, running.Tag)
	if err != nil {
		clog.WithError(err).Debug("Failed to resolve local image for lineage")

		local = running
	}

	if err := d.deps.Lineage.Refresh(ctx, types.ManagedImageFrom(local)); err != nil {
		clog.WithError(err).Warn("Failed to refresh managed image")
	}
}
