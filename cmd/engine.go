package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nicholas-fedor/imagekeeper/internal/actions"
	"github.com/nicholas-fedor/imagekeeper/internal/flags"
	"github.com/nicholas-fedor/imagekeeper/pkg/container"
	"github.com/nicholas-fedor/imagekeeper/pkg/database"
	"github.com/nicholas-fedor/imagekeeper/pkg/history"
	"github.com/nicholas-fedor/imagekeeper/pkg/lineage"
	"github.com/nicholas-fedor/imagekeeper/pkg/metrics"
	"github.com/nicholas-fedor/imagekeeper/pkg/notifications"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

var (
	errOpenDatabase  = errors.New("failed to open database")
	errRuntimeClient = errors.New("failed to create runtime client")
	errNotifier      = errors.New("failed to create notifier")
)

// appFs is the filesystem the database directory is created on.
var appFs = afero.NewOsFs()

// newRuntime connects to the container runtime.
var newRuntime = func() (types.RuntimeClient, error) {
	client, err := container.NewClient(container.ClientOptions{})
	if err != nil {
		return nil, err
	}

	return client, nil
}

// newMetrics returns the metrics the engine records into.
var newMetrics = metrics.Default

// engine holds everything a command needs to detect and apply updates.
type engine struct {
	db         *sql.DB
	runtime    types.RuntimeClient
	history    *history.Store
	lineage    *lineage.Tracker
	notifier   *notifications.Notifier
	metrics    *metrics.Metrics
	detector   *actions.Detector
	applicator *actions.Applicator
}

// openDatabase opens the history and lineage database named by --database.
func openDatabase(ctx context.Context, cmd *cobra.Command) (*sql.DB, error) {
	path, err := cmd.Flags().GetString("database")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errOpenDatabase, err)
	}

	db, err := database.Open(ctx, appFs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errOpenDatabase, err)
	}

	return db, nil
}

// newEngine builds the stores, runtime client, notifier, detector and
// applicator from the command's flags. The caller must Close it.
func newEngine(ctx context.Context, cmd *cobra.Command) (*engine, error) {
	opts, policy, err := flags.ReadApplyOptions(cmd.Flags())
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(ctx, cmd)
	if err != nil {
		return nil, err
	}

	e := &engine{
		db:      db,
		history: history.New(db),
		lineage: lineage.New(db),
		metrics: newMetrics(),
	}

	if e.runtime, err = newRuntime(); err != nil {
		_ = e.Close()

		return nil, fmt.Errorf("%w: %w", errRuntimeClient, err)
	}

	if e.notifier, err = notifications.NewNotifier(cmd.Root()); err != nil {
		_ = e.Close()

		return nil, fmt.Errorf("%w: %w", errNotifier, err)
	}

	deps := actions.Dependencies{
		Runtime:    e.runtime,
		History:    e.history,
		Lineage:    e.lineage,
		Locks:      actions.NewLocks(),
		Metrics:    e.metrics,
		BusyPolicy: policy,
	}

	// A nil *Notifier must not become a non-nil interface.
	if e.notifier != nil {
		deps.Notifier = e.notifier
	}

	if e.detector, err = actions.NewDetector(deps); err != nil {
		_ = e.Close()

		return nil, err
	}

	if e.applicator, err = actions.NewApplicator(deps, opts); err != nil {
		_ = e.Close()

		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"busy_policy":    policy,
		"stop_timeout":   opts.StopTimeout,
		"verify_timeout": opts.VerifyTimeout,
		"revive_stopped": opts.ReviveStopped,
		"notify_success": opts.NotifySuccess,
	}).Debug("Update engine ready")

	return e, nil
}

// Close flushes pending notifications and closes the database.
func (e *engine) Close() error {
	if e.notifier != nil {
		e.notifier.Close()
	}

	if e.db != nil {
		if err := e.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}

	return nil
}
