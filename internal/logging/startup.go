// Package logging writes imagekeeper's startup summary for watch mode.
package logging

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagekeeper/internal/util"
)

// StartupInfo describes the watch configuration being started.
type StartupInfo struct {
	Version     string
	APIVersion  string    // Docker API version in use.
	Notifiers   []string  // Service names of the configured notification URLs.
	Label       string    // Enable label; empty when all containers are watched.
	MonitorOnly bool      // Detect only, never apply.
	Database    string    // Path of the history and lineage database.
	Schedule    string    // Cron specification; empty when periodic runs are off.
	NextRun     time.Time // First scheduled run, zero when unknown.
	MetricsAddr string    // Metrics API address, empty when disabled.
}

// WriteStartupMessage logs the startup summary to log.
//
// Parameters:
//   - log: Entry to write to; the standard logger is used when nil.
//   - info: Configuration to report.
func WriteStartupMessage(log *logrus.Entry, info StartupInfo) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	log.Info("imagekeeper ", info.Version, " using Docker API v", info.APIVersion)

	LogNotifierInfo(log, info.Notifiers)

	if info.Label != "" {
		log.WithField("label", info.Label).Info("Only watching containers with the enable label")
	} else {
		log.Debug("Watching all running containers")
	}

	if info.MonitorOnly {
		log.Info("Monitor only mode, updates will be reported but not applied")
	}

	log.WithField("database", info.Database).Debug("Recording update history")

	LogScheduleInfo(log, info.Schedule, info.NextRun)

	if info.MetricsAddr != "" {
		log.Info("The metrics API is enabled at " + info.MetricsAddr + ".")
	}

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		log.Warn("Trace level enabled: log will include sensitive information as credentials and tokens")
	}
}

// LogNotifierInfo logs the configured notification services.
func LogNotifierInfo(log *logrus.Entry, notifierNames []string) {
	if len(notifierNames) > 0 {
		log.Info("Using notifications: " + strings.Join(notifierNames, ", "))
	} else {
		log.Info("Using no notifications")
	}
}

// LogScheduleInfo logs when the first scheduled check happens.
func LogScheduleInfo(log *logrus.Entry, schedule string, next time.Time) {
	switch {
	case schedule == "":
		log.Info("Periodic updates are not enabled.")
	case next.IsZero():
		log.WithField("schedule", schedule).Info("Periodic updates are enabled.")
	default:
		until := util.FormatDuration(time.Until(next))
		log.Info("Scheduling first run: " + next.Format("2006-01-02 15:04:05 -0700 MST"))
		log.Info("Note that the first check will be performed in " + until)
	}
}
