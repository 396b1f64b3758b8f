package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// Default bounds for the waiting steps of an update.
const (
	DefaultStopTimeout   = 10 * time.Second
	DefaultVerifyTimeout = 30 * time.Second
)

// ApplyOptions tunes the Applicator.
type ApplyOptions struct {
	StopTimeout   time.Duration // Graceful stop bound for the old and the failed new container.
	VerifyTimeout time.Duration // Bound for the new container to run and report healthy.
	ReviveStopped bool          // Start the new container even if the old one was stopped.
	NotifySuccess bool          // Notify successful updates too, not only failures.
}

// Applicator replaces a container with one running the newest image of the
// same tag, restoring the old container when the new one cannot run.
type Applicator struct {
	deps Dependencies
	opts ApplyOptions
	now  func() time.Time
}

// NewApplicator creates an Applicator.
//
// Parameters:
//   - deps: Collaborators; Runtime and History are required.
//   - opts: Timeouts and behaviour switches; zero timeouts take the defaults.
//
// Returns:
//   - *Applicator: Ready applicator.
//   - error: Non-nil if a required collaborator is missing.
func NewApplicator(deps Dependencies, opts ApplyOptions) (*Applicator, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}

	if deps.History == nil {
		return nil, fmt.Errorf("%w: history store", errMissingDependency)
	}

	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = DefaultVerifyTimeout
	}

	return &Applicator{
		deps: deps,
		opts: opts,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// attempt carries the state of one Apply call through its steps.
type attempt struct {
	record   types.UpdateRecord
	snapshot types.Snapshot
	pulled   types.ImageReference
	current  types.ContainerID // Container serving after the attempt; the record keeps the original id.
	clog     *logrus.Entry
}

// fail sets the record's failure fields and returns the classified error.
func (t *attempt) fail(status types.UpdateStatus, class, cause error) error {
	return t.failed(status, fmt.Errorf("%w: %w", class, cause))
}

// failed records an error that already carries its class.
func (t *attempt) failed(status types.UpdateStatus, err error) error {
	message := err.Error()

	t.record.Status = status
	t.record.ErrorMessage = &message

	return err
}

// Apply runs one update attempt for a container:
// snapshot, pull, stop, remove, recreate, verify, lineage, persist.
//
// A failure before Remove leaves the container as it was. Once Remove has
// run, the attempt no longer follows ctx cancellation and always ends with the
// new container verified, the old container restored, or the unrecoverable
// state reported. Exactly one record is appended on every path.
//
// Parameters:
//   - ctx: Context for the steps before Remove and for waiting on the lock.
//   - ref: Container to update, by name or id.
//
// Returns:
//   - types.UpdateRecord: The record as written, with its storage id.
//   - error: Nil on success; otherwise wraps the failing step's error class,
//     and ErrPersistenceFailed when the record could not be stored.
func (a *Applicator) Apply(ctx context.Context, ref types.ContainerRef) (types.UpdateRecord, error) {
	t := &attempt{
		record: types.UpdateRecord{
			AttemptID:     uuid.NewString(),
			ContainerID:   ref.ID,
			ContainerName: ref.Name,
			Status:        types.StatusSuccess,
		},
	}
	t.clog = logrus.WithFields(logrus.Fields{
		"container": ref,
		"attempt":   t.record.AttemptID,
	})

	done := a.deps.Metrics.StartApply()

	// Held from StartedAt until the record is stored.
	release, outcome := a.acquire(ctx, t, ref)
	t.record.StartedAt = a.now()

	if outcome == nil {
		outcome = a.run(ctx, t, ref)
	}

	err := a.persist(ctx, t, outcome)

	if release != nil {
		release()
	}

	done(t.record.Status)
	a.notify(t)

	return t.record, err
}

// acquire takes the container lock. On failure the release function is nil
// and the attempt is marked failed.
func (a *Applicator) acquire(ctx context.Context, t *attempt, ref types.ContainerRef) (func(), error) {
	key, err := a.deps.lockKey(ctx, ref)
	if err != nil {
		return nil, t.fail(types.StatusFailed, ErrSnapshotFailed, err)
	}

	release, err := a.deps.lock(ctx, key)
	if err != nil {
		return nil, t.failed(types.StatusFailed, err)
	}

	return release, nil
}

// run executes the steps up to and including lineage and returns the
// attempt's classified error. The caller holds the container lock.
func (a *Applicator) run(ctx context.Context, t *attempt, ref types.ContainerRef) error {
	runtime := a.deps.Runtime

	t.clog.WithField("step", "snapshot").Debug("Capturing container snapshot")

	snapshot, err := runtime.InspectContainer(ctx, ref)
	if err != nil {
		return t.fail(types.StatusFailed, ErrSnapshotFailed, err)
	}

	t.snapshot = snapshot
	t.record.ContainerID = snapshot.Container.ID
	t.record.ContainerName = snapshot.Container.Name
	t.record.OldImage = snapshot.Image.String()
	t.record.NewImage = snapshot.Image.String()
	t.record.OldDigest = snapshot.Image.Digest
	t.clog = t.clog.WithFields(logrus.Fields{
		"container": snapshot.Container,
		"image":     snapshot.Image.String(),
	})

	t.clog.WithField("step", "pull").Debug("Pulling image")

	pulled, err := runtime.PullImage(ctx, snapshot.Image.Repository, snapshot.Image.Tag)
	if err != nil {
		return t.fail(types.StatusFailed, ErrPullFailed, err)
	}

	t.pulled = pulled
	t.record.NewImage = pulled.String()

	if snapshot.Running {
		t.clog.WithField("step", "stop").Debug("Stopping container")

		if err := runtime.StopContainer(ctx, snapshot.Container, a.opts.StopTimeout); err != nil {
			return t.fail(types.StatusFailed, ErrStopFailed, err)
		}
	}

	// Past this point the old container is gone unless we put it back.
	mctx := context.WithoutCancel(ctx)

	t.clog.WithField("step", "remove").Debug("Removing container")

	if err := runtime.RemoveContainer(mctx, snapshot.Container); err != nil {
		return t.fail(types.StatusFailed, ErrRemoveFailed, err)
	}

	newRef, err := a.recreate(mctx, t)
	if err == nil {
		err = a.verify(mctx, t, newRef)
	}

	if err != nil {
		return a.recover(mctx, t, newRef, err)
	}

	t.clog.WithFields(logrus.Fields{
		"new_id":     t.current.ShortID(),
		"old_digest": t.record.OldDigest,
		"new_digest": t.record.NewDigestString(),
	}).Info("Updated container")

	a.recordLineage(mctx, t)

	return nil
}

// shouldStart reports whether the replacement container is started.
func (a *Applicator) shouldStart(t *attempt) bool {
	return t.snapshot.Running || a.opts.ReviveStopped
}

// recreate creates and, when appropriate, starts the new container. The
// returned reference is set whenever a container was created.
func (a *Applicator) recreate(ctx context.Context, t *attempt) (types.ContainerRef, error) {
	t.clog.WithField("step", "recreate").Debug("Creating container with new image")

	newRef, err := a.deps.Runtime.CreateContainer(ctx, t.snapshot, t.pulled)
	if err != nil {
		return types.ContainerRef{}, err
	}

	if !a.shouldStart(t) {
		return newRef, nil
	}

	if err := a.deps.Runtime.StartContainer(ctx, newRef); err != nil {
		return newRef, err
	}

	return newRef, nil
}

// verify waits for the new container to run and re-reads the digest it runs.
func (a *Applicator) verify(ctx context.Context, t *attempt, newRef types.ContainerRef) error {
	t.clog.WithField("step", "verify").Debug("Verifying new container")

	if a.shouldStart(t) {
		if err := a.deps.Runtime.WaitRunning(ctx, newRef, a.opts.VerifyTimeout); err != nil {
			return err
		}
	}

	running, err := a.deps.Runtime.InspectContainer(ctx, newRef)
	if err != nil {
		return fmt.Errorf("%w: %w", errNewDigestUnknown, err)
	}

	if running.Image.Digest == "" {
		return fmt.Errorf("%w: %s has no digest", errNewDigestUnknown, running.Image)
	}

	newDigest := running.Image.Digest
	t.current = running.Container.ID
	t.record.NewDigest = &newDigest

	return nil
}

// recover removes whatever the failed recreate left behind and brings the old
// container back on the old image.
func (a *Applicator) recover(ctx context.Context, t *attempt, newRef types.ContainerRef, cause error) error {
	clog := t.clog.WithField("step", "recover")
	clog.WithError(cause).Warn("New container failed, restoring previous container")

	if t.pulled.Digest != "" {
		attempted := t.pulled.Digest
		t.record.NewDigest = &attempted
	}

	recoverErr := a.restore(ctx, t, newRef)
	if recoverErr != nil {
		err := t.fail(types.StatusFailed, ErrRecreateUnrecoverable, errors.Join(cause, recoverErr))
		message := fmt.Sprintf("update failed: %v; recovery failed: %v", cause, recoverErr)
		t.record.ErrorMessage = &message

		clog.WithError(err).Error("Container could not be restored, service is down")

		return err
	}

	err := t.fail(types.StatusRolledBack, ErrRecreateRecovered, cause)
	clog.WithField("id", t.current.ShortID()).Info("Restored previous container")

	// The pulled image lost its tag when the old image was retagged.
	if a.deps.Lineage != nil && t.pulled.ID != "" && t.pulled.ID != t.snapshot.Image.ID {
		if lerr := a.deps.Lineage.RecordTagTransition(ctx, t.pulled.ID, t.pulled.Tag); lerr != nil {
			clog.WithError(lerr).Warn("Failed to record tag transition")
		}
	}

	return err
}

// restore runs the recovery steps and returns the first error.
func (a *Applicator) restore(ctx context.Context, t *attempt, newRef types.ContainerRef) error {
	runtime := a.deps.Runtime

	if !newRef.IsZero() {
		if err := runtime.StopContainer(ctx, newRef, a.opts.StopTimeout); err != nil {
			t.clog.WithError(err).Debug("Failed to stop new container")
		}

		if err := runtime.RemoveContainer(ctx, newRef); err != nil {
			return fmt.Errorf("remove new container: %w", err)
		}
	}

	old := t.snapshot.Image
	if !old.Pinned() && old.ID != "" {
		if err := runtime.TagImage(ctx, old.ID, old.Repository, old.Tag); err != nil {
			return fmt.Errorf("retag previous image: %w", err)
		}
	}

	oldRef, err := runtime.CreateContainer(ctx, t.snapshot, old)
	if err != nil {
		return fmt.Errorf("recreate previous container: %w", err)
	}

	t.current = oldRef.ID

	if !a.shouldStart(t) {
		return nil
	}

	if err := runtime.StartContainer(ctx, oldRef); err != nil {
		return fmt.Errorf("start previous container: %w", err)
	}

	if err := runtime.WaitRunning(ctx, oldRef, a.opts.VerifyTimeout); err != nil {
		return fmt.Errorf("verify previous container: %w", err)
	}

	return nil
}

// recordLineage updates managed image rows after a successful update.
// Failures are logged and do not change the outcome.
func (a *Applicator) recordLineage(ctx context.Context, t *attempt) {
	if a.deps.Lineage == nil {
		return
	}

	clog := t.clog.WithField("step", "lineage")
	old := t.snapshot.Image

	current := t.pulled
	if t.record.NewDigest != nil {
		current.Digest = *t.record.NewDigest
	}

	if err := a.deps.Lineage.Refresh(ctx, types.ManagedImageFrom(current)); err != nil {
		clog.WithError(err).Warn("Failed to refresh managed image")
	}

	if old.ID == "" || old.ID == current.ID {
		return
	}

	local, err := a.deps.Runtime.ResolveLocalImage(ctx, old.Repository, old.Tag)
	if err != nil {
		clog.WithError(err).Warn("Failed to resolve tag after update")

		return
	}

	if local.ID == old.ID {
		return
	}

	if err := a.deps.Lineage.RecordTagTransition(ctx, old.ID, old.Tag); err != nil {
		clog.WithError(err).Warn("Failed to record tag transition")

		return
	}

	clog.WithFields(logrus.Fields{
		"image_id":     old.ID.ShortID(),
		"previous_tag": old.Tag,
	}).Debug("Marked previous image as dangling")
}

// persist appends the attempt's record. The write ignores caller
// cancellation.
func (a *Applicator) persist(ctx context.Context, t *attempt, outcome error) error {
	t.record.UpdatedAt = a.now()

	err := a.deps.History.Append(context.WithoutCancel(ctx), &t.record)
	a.deps.Metrics.RecordPersist(err)

	if err != nil {
		t.clog.WithError(err).Error("Failed to persist update record")

		return errors.Join(fmt.Errorf("%w: %w", ErrPersistenceFailed, err), outcome)
	}

	if outcome != nil {
		t.clog.WithFields(logrus.Fields{
			"status": t.record.Status,
			"record": t.record.ID,
		}).WithError(outcome).Warn("Update attempt did not succeed")
	}

	return outcome
}

func (a *Applicator) notify(t *attempt) {
	if a.deps.Notifier == nil {
		return
	}

	if t.record.Succeeded() && !a.opts.NotifySuccess {
		return
	}

	a.deps.Notifier.Notify(t.record)
}
