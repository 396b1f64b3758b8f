package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicholas-fedor/imagekeeper/internal/api"
	"github.com/nicholas-fedor/imagekeeper/internal/logging"
	"github.com/nicholas-fedor/imagekeeper/internal/meta"
	"github.com/nicholas-fedor/imagekeeper/internal/scheduling"
	"github.com/nicholas-fedor/imagekeeper/pkg/filters"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// WatchConfig is the watch mode configuration read from flags.
type WatchConfig struct {
	Schedule      string
	UpdateOnStart bool
	MonitorOnly   bool
	LabelEnable   bool
	Names         []string
	DisableNames  []string
	EnableMetrics bool
	APIToken      string
	APIPort       string
	Database      string
}

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [CONTAINER...]",
		Short: "Check and update containers on a schedule",
		Long: "Runs detection for every running container on the --schedule and applies available updates.\n" +
			"Container arguments restrict the sweep to matching names or regular expressions.\n" +
			"With --label-enable only containers labelled " + types.EnableLabel + "=true are watched.",
		RunE: runWatch,
	}

	cmd.Flags().Bool("update-on-start", false, "Run a check immediately, before the first scheduled one")
	cmd.Flags().Bool("monitor-only", false, "Report available updates without applying them")

	return cmd
}

// readWatchConfig collects the watch flags.
func readWatchConfig(cmd *cobra.Command, args []string) WatchConfig {
	f := cmd.Flags()

	cfg := WatchConfig{Names: args}

	cfg.Schedule, _ = f.GetString("schedule")
	cfg.UpdateOnStart, _ = f.GetBool("update-on-start")
	cfg.MonitorOnly, _ = f.GetBool("monitor-only")
	cfg.LabelEnable, _ = f.GetBool("label-enable")
	cfg.DisableNames, _ = f.GetStringSlice("disable-containers")
	cfg.EnableMetrics, _ = f.GetBool("http-api-metrics")
	cfg.APIToken, _ = f.GetString("http-api-token")
	cfg.APIPort, _ = f.GetString("http-api-port")
	cfg.Database, _ = f.GetString("database")

	return cfg
}

func runWatch(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	cfg := readWatchConfig(cmd, args)
	filter, filterDesc := filters.BuildFilter(cfg.Names, cfg.DisableNames, cfg.LabelEnable)

	e, err := newEngine(ctx, cmd)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, e.Close()) }()

	sweeper := &scheduling.Sweeper{
		Lister:      e.runtime,
		Detector:    e.detector,
		Applier:     e.applicator,
		Filter:      filter,
		MonitorOnly: cfg.MonitorOnly,
	}

	if cfg.LabelEnable {
		sweeper.Label = types.EnableLabel
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := api.SetupAndStartAPI(serveCtx, api.Config{
		Port:          cfg.APIPort,
		Token:         cfg.APIToken,
		EnableMetrics: cfg.EnableMetrics,
	}); err != nil {
		return err
	}

	writeStartupMessage(e, cfg, sweeper.Label)
	logrus.Info(filterDesc)

	return scheduling.RunOnSchedule(serveCtx, cfg.Schedule, cfg.UpdateOnStart, func(ctx context.Context) {
		if _, err := sweeper.Sweep(ctx); err != nil {
			logrus.WithError(err).Error("Sweep failed")
		}
	})
}

// writeStartupMessage logs the watch configuration.
func writeStartupMessage(e *engine, cfg WatchConfig, label string) {
	info := logging.StartupInfo{
		Version:     meta.Version,
		Label:       label,
		MonitorOnly: cfg.MonitorOnly,
		Database:    cfg.Database,
		Schedule:    cfg.Schedule,
	}

	if versioned, ok := e.runtime.(interface{ GetVersion() string }); ok {
		info.APIVersion = versioned.GetVersion()
	}

	if e.notifier != nil {
		info.Notifiers = e.notifier.GetNames()
	}

	if cfg.EnableMetrics {
		info.MetricsAddr = api.GetAPIAddr("", cfg.APIPort)
	}

	if cfg.Schedule != "" {
		if schedule, err := cron.Parse(cfg.Schedule); err == nil {
			info.NextRun = schedule.Next(time.Now())
		}
	}

	logging.WriteStartupMessage(nil, info)
}
