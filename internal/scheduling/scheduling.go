// Package scheduling runs update sweeps for imagekeeper's watch mode.
// It checks every watched container on a cron schedule, applies available updates
// and ensures graceful shutdown of a sweep in progress.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// updateWaitTimeout bounds how long shutdown waits for a running sweep.
const updateWaitTimeout = 60 * time.Second

// errScheduleFailed indicates an invalid cron specification.
var errScheduleFailed = errors.New("failed to schedule updates")

// errListFailed indicates the watched containers could not be listed.
var errListFailed = errors.New("failed to list watched containers")

// Lister lists the containers a sweep visits.
type Lister interface {
	ListContainers(ctx context.Context, label string) ([]types.ContainerRef, error)
}

// Detector classifies a container's update status.
type Detector interface {
	Detect(ctx context.Context, ref types.ContainerRef) types.Verdict
}

// Applier replaces a container with the newest image of its tag.
type Applier interface {
	Apply(ctx context.Context, ref types.ContainerRef) (types.UpdateRecord, error)
}

// Summary counts what a sweep saw and did.
type Summary struct {
	Scanned    int
	Available  int
	Updated    int
	RolledBack int
	Failed     int
}

// Sweeper checks and updates the watched containers one at a time.
type Sweeper struct {
	Lister   Lister
	Detector Detector
	Applier  Applier
	// Label restricts the sweep to containers with this label set to true.
	Label string
	// Filter drops listed containers before detection; nil keeps all.
	Filter types.Filter
	// MonitorOnly reports available updates without applying them.
	MonitorOnly bool
}

// Sweep runs one pass over the watched containers.
//
// Detection failures count as failed and do not stop the pass; only a failed
// listing does. A cancelled context stops the pass before the next container.
//
// Parameters:
//   - ctx: Context for the pass.
//
// Returns:
//   - Summary: Counts for the containers visited.
//   - error: Non-nil if the containers cannot be listed.
func (s *Sweeper) Sweep(ctx context.Context) (Summary, error) {
	var summary Summary

	refs, err := s.Lister.ListContainers(ctx, s.Label)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", errListFailed, err)
	}

	for _, ref := range refs {
		if ctx.Err() != nil {
			logrus.WithError(ctx.Err()).Debug("Sweep interrupted")

			break
		}

		if s.Filter != nil && !s.Filter(ref) {
			continue
		}

		summary.Scanned++

		verdict := s.Detector.Detect(ctx, ref)

		switch verdict.Kind {
		case types.UpToDate:
			continue
		case types.DetectionFailed:
			summary.Failed++

			continue
		case types.UpdateAvailable:
			summary.Available++
		}

		if s.MonitorOnly {
			logrus.WithFields(logrus.Fields{
				"container": ref,
				"remote":    verdict.RemoteDigest,
			}).Info("Update available")

			continue
		}

		record, _ := s.Applier.Apply(ctx, ref)

		switch record.Status {
		case types.StatusSuccess:
			summary.Updated++
		case types.StatusRolledBack:
			summary.RolledBack++
		default:
			summary.Failed++
		}
	}

	logrus.WithFields(logrus.Fields{
		"scanned":     summary.Scanned,
		"available":   summary.Available,
		"updated":     summary.Updated,
		"rolled_back": summary.RolledBack,
		"failed":      summary.Failed,
	}).Info("Sweep completed")

	return summary, nil
}

// WaitForRunningUpdate waits for a running sweep to finish before shutdown.
// The lock channel holds a value while no sweep runs.
func WaitForRunningUpdate(ctx context.Context, lock chan bool) {
	logrus.Debug("Checking lock status before shutdown.")

	if len(lock) == 0 {
		select {
		case v := <-lock:
			lock <- v

			logrus.Debug("Lock acquired, update finished.")
		case <-time.After(updateWaitTimeout):
			logrus.Warn("Timeout waiting for running update to finish, proceeding with shutdown.")
		case <-ctx.Done():
			logrus.Warn("Context cancelled while waiting for running update.")
		}
	} else {
		logrus.Debug("No update running, lock available.")
	}
}

// RunOnSchedule runs sweep according to the cron specification until ctx is
// cancelled or the process receives SIGINT or SIGTERM.
//
// A tick that fires while the previous sweep still runs is skipped. Shutdown
// waits for a running sweep before returning.
//
// Parameters:
//   - ctx: Context controlling the scheduler's lifecycle.
//   - scheduleSpec: Cron specification; empty disables periodic runs.
//   - updateOnStart: Run one sweep before the first tick.
//   - sweep: The work to run on each tick.
//
// Returns:
//   - error: Non-nil if scheduleSpec is invalid.
func RunOnSchedule(
	ctx context.Context,
	scheduleSpec string,
	updateOnStart bool,
	sweep func(context.Context),
) error {
	lock := make(chan bool, 1)
	lock <- true

	scheduler := cron.New()

	run := func() {
		select {
		case v := <-lock:
			defer func() { lock <- v }()

			sweep(ctx)
		default:
			logrus.Debug("Skipped another update already running.")
		}

		if entries := scheduler.Entries(); len(entries) > 0 {
			logrus.WithField("next_run", entries[0].Next).Debug("Scheduled next run")
		}
	}

	if scheduleSpec != "" {
		if err := scheduler.AddFunc(scheduleSpec, run); err != nil {
			return fmt.Errorf("%w: %w", errScheduleFailed, err)
		}
	}

	if entries := scheduler.Entries(); len(entries) > 0 {
		logrus.WithFields(logrus.Fields{
			"schedule": scheduleSpec,
			"next_run": entries[0].Schedule.Next(time.Now()),
		}).Info("Watching for updates")
	}

	if updateOnStart {
		run()
	}

	scheduler.Start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	defer signal.Stop(interrupt)

	select {
	case <-ctx.Done():
		logrus.Debug("Context canceled, stopping scheduler...")
	case <-interrupt:
		logrus.Debug("Received interrupt signal, stopping scheduler...")
	}

	scheduler.Stop()
	logrus.Debug("Waiting for running update to be finished...")

	WaitForRunningUpdate(context.WithoutCancel(ctx), lock)

	logrus.Debug("Scheduler stopped and update completed.")

	return nil
}
