// Package flags manages command-line flags and environment variables for imagekeeper configuration.
package flags

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nicholas-fedor/imagekeeper/internal/actions"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// DefaultDatabasePath is where update history and image lineage are kept.
const DefaultDatabasePath = "/var/lib/imagekeeper/imagekeeper.db"

// DefaultSchedule is the cron expression used by watch when none is given.
const DefaultSchedule = "@every 6h"

// defaultHTTPAPIPort is the port the metrics endpoint listens on.
const defaultHTTPAPIPort = "8080"

// errInvalidLogFormat indicates an invalid log format was specified.
// It is used in SetupLogging to report configuration errors.
var errInvalidLogFormat = errors.New("invalid log format specified")

// errInvalidLogLevel indicates an invalid log level was specified.
// It is used in SetupLogging to report configuration errors.
var errInvalidLogLevel = errors.New("invalid log level specified")

// errSetEnvFailed indicates a failure to set an environment variable.
var errSetEnvFailed = errors.New("failed to set environment variable")

// errOpenFileFailed indicates a failure to open a file for reading secrets.
var errOpenFileFailed = errors.New("failed to open secret file")

// errCloseFileFailed indicates a failure to close a file after reading secrets.
var errCloseFileFailed = errors.New("failed to close secret file")

// errReplaceSliceFailed indicates a failure to replace a slice value in a flag.
var errReplaceSliceFailed = errors.New("failed to replace slice value in flag")

// errReadFileFailed indicates a failure to read a file's contents.
var errReadFileFailed = errors.New("failed to read secret file")

// errSetFlagFailed indicates a failure to read or set a flag's value.
var errSetFlagFailed = errors.New("failed to set flag value")

// errInvalidFlagName indicates an invalid flag name was provided.
var errInvalidFlagName = errors.New("invalid flag name provided")

// errNotSliceValue indicates a flag does not support slice values.
var errNotSliceValue = errors.New("flag does not support slice values")

// errScheduleConflict is returned when both interval and schedule are given.
var errScheduleConflict = errors.New("only schedule or interval can be defined, not both")

// errUnknownPorcelain is returned for an unsupported --porcelain version.
var errUnknownPorcelain = errors.New("unknown porcelain version")

// RegisterDockerFlags adds flags used directly by the Docker API client to the root command.
func RegisterDockerFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()
	flags.StringP("host", "H", envString("DOCKER_HOST"), "daemon socket to connect to")
	flags.BoolP("tlsverify", "v", envBool("DOCKER_TLS_VERIFY"), "use TLS and verify the remote")
	flags.StringP(
		"api-version",
		"a",
		envString("DOCKER_API_VERSION"),
		"api version to use by docker client, negotiated when empty",
	)
}

// RegisterSystemFlags adds flags that control how updates are applied, stored and logged.
func RegisterSystemFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.StringP(
		"database",
		"",
		envString("IMAGEKEEPER_DATABASE"),
		"Path of the SQLite database holding update history and image lineage")

	flags.DurationP(
		"stop-timeout",
		"t",
		envDuration("IMAGEKEEPER_STOP_TIMEOUT"),
		"Time a container is given to stop gracefully")

	flags.DurationP(
		"verify-timeout",
		"",
		envDuration("IMAGEKEEPER_VERIFY_TIMEOUT"),
		"Time a new container is given to run and report healthy")

	flags.StringP(
		"busy-policy",
		"",
		envString("IMAGEKEEPER_BUSY_POLICY"),
		"What to do when a container is already being processed. Possible values: wait, reject")

	flags.BoolP(
		"revive-stopped",
		"",
		envBool("IMAGEKEEPER_REVIVE_STOPPED"),
		"Start the new container even if the old one was stopped")

	flags.BoolP(
		"notify-success",
		"",
		envBool("IMAGEKEEPER_NOTIFY_SUCCESS"),
		"Send notifications for successful updates, not only failures")

	flags.IntP(
		"interval",
		"i",
		envInt("IMAGEKEEPER_POLL_INTERVAL"),
		"Poll interval (in seconds) for watch, instead of a schedule")

	flags.StringP(
		"schedule",
		"s",
		envString("IMAGEKEEPER_SCHEDULE"),
		"The cron expression which defines when watch checks for updates")

	flags.BoolP(
		"label-enable",
		"e",
		envBool("IMAGEKEEPER_LABEL_ENABLE"),
		"Watch only containers where the "+types.EnableLabel+" label is true")

	flags.StringSliceP(
		"disable-containers",
		"x",
		// Due to issue spf13/viper#380, can't use viper.GetStringSlice:
		regexp.MustCompile("[, ]+").Split(envString("IMAGEKEEPER_DISABLE_CONTAINERS"), -1),
		"Comma-separated list of containers watch never updates")

	flags.StringP(
		"log-format",
		"l",
		viper.GetString("IMAGEKEEPER_LOG_FORMAT"),
		"Sets what logging format to use for console output. Possible values: Auto, LogFmt, Pretty, JSON",
	)

	flags.StringP(
		"log-level",
		"",
		envString("IMAGEKEEPER_LOG_LEVEL"),
		"The maximum log level that will be written to STDERR. Possible values: panic, fatal, error, warn, info, debug or trace")

	flags.BoolP(
		"debug",
		"d",
		envBool("IMAGEKEEPER_DEBUG"),
		"Enable debug mode with verbose logging")

	flags.BoolP(
		"trace",
		"",
		envBool("IMAGEKEEPER_TRACE"),
		"Enable trace mode with very verbose logging - caution, exposes credentials")

	flags.BoolP(
		"no-color",
		"",
		viper.IsSet("NO_COLOR"),
		"Disable ANSI color escape codes in log output")

	flags.BoolP(
		"http-api-metrics",
		"",
		envBool("IMAGEKEEPER_HTTP_API_METRICS"),
		"Runs imagekeeper with the Prometheus metrics API enabled")

	flags.StringP(
		"http-api-token",
		"",
		envString("IMAGEKEEPER_HTTP_API_TOKEN"),
		"Sets an authentication token to HTTP API requests.")

	flags.StringP(
		"http-api-port",
		"",
		envString("IMAGEKEEPER_HTTP_API_PORT"),
		"Sets the port the HTTP API listens on")

	flags.StringP(
		"porcelain",
		"P",
		envString("IMAGEKEEPER_PORCELAIN"),
		`Write update records to stdout using a stable, machine-readable format. Possible values: "v1"`)
}

// RegisterNotificationFlags adds notification flags to the root command.
func RegisterNotificationFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.StringArrayP(
		"notification-url",
		"",
		envStringSlice("IMAGEKEEPER_NOTIFICATION_URL"),
		"The shoutrrr URL to send notifications to")

	flags.StringP(
		"notification-template",
		"",
		envString("IMAGEKEEPER_NOTIFICATION_TEMPLATE"),
		"The shoutrrr text/template for the messages")

	flags.StringP(
		"notification-title-tag",
		"",
		envString("IMAGEKEEPER_NOTIFICATION_TITLE_TAG"),
		"Title prefix tag for notifications")

	flags.StringP(
		"notifications-hostname",
		"",
		envString("IMAGEKEEPER_NOTIFICATIONS_HOSTNAME"),
		"Custom hostname for notification titles")

	flags.IntP(
		"notifications-delay",
		"",
		envInt("IMAGEKEEPER_NOTIFICATIONS_DELAY"),
		"Delay before sending notifications, expressed in seconds")

	flags.BoolP(
		"notification-log-stdout",
		"",
		envBool("IMAGEKEEPER_NOTIFICATION_LOG_STDOUT"),
		"Write notification logs to stdout instead of logging (to stderr)")
}

// envString retrieves a string value from an environment variable via Viper.
func envString(key string) string {
	viper.MustBindEnv(key)

	return viper.GetString(key)
}

// envStringSlice retrieves a string slice from an environment variable via Viper.
func envStringSlice(key string) []string {
	viper.MustBindEnv(key)

	return viper.GetStringSlice(key)
}

// envInt retrieves an integer value from an environment variable via Viper.
func envInt(key string) int {
	viper.MustBindEnv(key)

	return viper.GetInt(key)
}

// envBool retrieves a boolean value from an environment variable via Viper.
func envBool(key string) bool {
	viper.MustBindEnv(key)

	return viper.GetBool(key)
}

// envDuration retrieves a duration value from an environment variable via Viper.
func envDuration(key string) time.Duration {
	viper.MustBindEnv(key)

	return viper.GetDuration(key)
}

// SetDefaults configures default values for environment variables.
// It must run before the Register functions so flag defaults pick them up.
func SetDefaults() {
	viper.AutomaticEnv()
	viper.SetDefault("DOCKER_HOST", "unix:///var/run/docker.sock")
	viper.SetDefault("IMAGEKEEPER_DATABASE", DefaultDatabasePath)
	viper.SetDefault("IMAGEKEEPER_STOP_TIMEOUT", actions.DefaultStopTimeout)
	viper.SetDefault("IMAGEKEEPER_VERIFY_TIMEOUT", actions.DefaultVerifyTimeout)
	viper.SetDefault("IMAGEKEEPER_BUSY_POLICY", string(actions.BusyWait))
	viper.SetDefault("IMAGEKEEPER_HTTP_API_PORT", defaultHTTPAPIPort)
	viper.SetDefault("IMAGEKEEPER_NOTIFICATION_URL", []string{})
	viper.SetDefault("IMAGEKEEPER_LOG_LEVEL", "info")
	viper.SetDefault("IMAGEKEEPER_LOG_FORMAT", "auto")
}

// EnvConfig sets environment variables based on Docker-related flags.
// The Docker client reads its connection settings from the environment.
func EnvConfig(cmd *cobra.Command) error {
	var err error

	var host string

	var tls bool

	var version string

	flags := cmd.PersistentFlags()

	if host, err = flags.GetString("host"); err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if tls, err = flags.GetBool("tlsverify"); err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if version, err = flags.GetString("api-version"); err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if err = setEnvOptStr("DOCKER_HOST", host); err != nil {
		return err
	}

	if err = setEnvOptBool("DOCKER_TLS_VERIFY", tls); err != nil {
		return err
	}

	if err = setEnvOptStr("DOCKER_API_VERSION", version); err != nil {
		return err
	}

	return nil
}

// ReadApplyOptions collects the flags that shape a single update attempt.
func ReadApplyOptions(flags *pflag.FlagSet) (actions.ApplyOptions, actions.BusyPolicy, error) {
	var opts actions.ApplyOptions

	var err error

	if opts.StopTimeout, err = flags.GetDuration("stop-timeout"); err != nil {
		return opts, "", fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if opts.VerifyTimeout, err = flags.GetDuration("verify-timeout"); err != nil {
		return opts, "", fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if opts.ReviveStopped, err = flags.GetBool("revive-stopped"); err != nil {
		return opts, "", fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if opts.NotifySuccess, err = flags.GetBool("notify-success"); err != nil {
		return opts, "", fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	rawPolicy, err := flags.GetString("busy-policy")
	if err != nil {
		return opts, "", fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	policy, err := actions.ParseBusyPolicy(rawPolicy)
	if err != nil {
		return opts, "", err
	}

	return opts, policy, nil
}

// setEnvOptStr sets an environment variable to a specified string value if needed.
// It skips setting if the value is empty or matches the current environment.
func setEnvOptStr(env string, opt string) error {
	if opt == "" || opt == os.Getenv(env) {
		return nil
	}

	if err := os.Setenv(env, opt); err != nil {
		return fmt.Errorf("%w: %s: %w", errSetEnvFailed, env, err)
	}

	return nil
}

// setEnvOptBool sets an environment variable to "1" if the boolean is true.
func setEnvOptBool(env string, opt bool) error {
	if opt {
		return setEnvOptStr(env, "1")
	}

	return nil
}

// GetSecretsFromFiles replaces secret flag values with file contents if they reference files.
func GetSecretsFromFiles(rootCmd *cobra.Command) error {
	flags := rootCmd.PersistentFlags()

	secrets := []string{
		"notification-url",
		"http-api-token",
	}
	for _, secret := range secrets {
		if err := getSecretFromFile(flags, secret); err != nil {
			return fmt.Errorf("failed to get secret from flag %v: %w", secret, err)
		}
	}

	return nil
}

// getSecretFromFile updates a flag's value with file contents if it references a file.
// Slice flags take one value per non-empty line.
func getSecretFromFile(flags *pflag.FlagSet, secret string) error {
	flag := flags.Lookup(secret)
	if flag == nil {
		return fmt.Errorf("%w: %q", errInvalidFlagName, secret)
	}

	if sliceValue, ok := flag.Value.(pflag.SliceValue); ok {
		oldValues := sliceValue.GetSlice()
		values := make([]string, 0, len(oldValues))

		for _, value := range oldValues {
			if value == "" || !isFilePath(value) {
				values = append(values, value)

				continue
			}

			file, err := os.Open(value)
			if err != nil {
				return fmt.Errorf("%w: %w", errOpenFileFailed, err)
			}

			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					values = append(values, line)
				}
			}

			if err := file.Close(); err != nil {
				return fmt.Errorf("%w: %w", errCloseFileFailed, err)
			}
		}

		if err := sliceValue.Replace(values); err != nil {
			return fmt.Errorf("%w: %w", errReplaceSliceFailed, err)
		}

		return nil
	}

	value := flag.Value.String()
	if value != "" && isFilePath(value) {
		content, err := os.ReadFile(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errReadFileFailed, err)
		}

		if err := flags.Set(secret, strings.TrimSpace(string(content))); err != nil {
			return fmt.Errorf("%w: %w", errSetFlagFailed, err)
		}
	}

	return nil
}

// isFilePath determines if a string likely represents an existing file path.
func isFilePath(path string) bool {
	firstColon := strings.IndexRune(path, ':')
	if firstColon != 1 && firstColon != -1 {
		// A colon past the drive letter position means a URL, not a path.
		return false
	}

	_, err := os.Stat(path)

	return !errors.Is(err, os.ErrNotExist)
}

// ProcessFlagAliases resolves helper flags into the flags they stand for.
//
// --porcelain adds a logger notification with the porcelain template,
// --interval becomes an "@every" schedule and --debug/--trace set the log level.
func ProcessFlagAliases(flags *pflag.FlagSet) error {
	porcelain, err := flags.GetString("porcelain")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if porcelain != "" {
		if porcelain != "v1" {
			return fmt.Errorf(`%w: %q, supported values: "v1"`, errUnknownPorcelain, porcelain)
		}

		if err := appendFlagValue(flags, "notification-url", "logger://"); err != nil {
			return err
		}

		setFlagIfDefault(flags, "notification-log-stdout", "true")
		setFlagIfDefault(flags, "notify-success", "true")
		setFlagIfDefault(flags, "notification-template", "porcelain."+porcelain)
	}

	schedule, _ := flags.GetString("schedule")
	interval, _ := flags.GetInt("interval")

	scheduleSet := flags.Changed("schedule") || schedule != ""
	intervalSet := flags.Changed("interval") || interval > 0

	if scheduleSet && intervalSet {
		return errScheduleConflict
	}

	switch {
	case intervalSet:
		if err := flags.Set("schedule", fmt.Sprintf("@every %ds", interval)); err != nil {
			return fmt.Errorf("%w: %w", errSetFlagFailed, err)
		}
	case !scheduleSet:
		if err := flags.Set("schedule", DefaultSchedule); err != nil {
			return fmt.Errorf("%w: %w", errSetFlagFailed, err)
		}
	}

	if flagIsEnabled(flags, "debug") {
		if err := flags.Set("log-level", "debug"); err != nil {
			return fmt.Errorf("%w: %w", errSetFlagFailed, err)
		}
	}

	if flagIsEnabled(flags, "trace") {
		if err := flags.Set("log-level", "trace"); err != nil {
			return fmt.Errorf("%w: %w", errSetFlagFailed, err)
		}
	}

	return nil
}

// SetupLogging configures the global logger based on log-related flags.
func SetupLogging(flags *pflag.FlagSet) error {
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	noColor, err := flags.GetBool("no-color")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if err := configureLogFormat(logFormat, noColor); err != nil {
		return err
	}

	rawLogLevel, err := flags.GetString("log-level")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	logLevel, err := logrus.ParseLevel(rawLogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	logrus.SetLevel(logLevel)

	return nil
}

// configureLogFormat sets the logrus formatter based on the specified format and color preference.
func configureLogFormat(logFormat string, noColor bool) error {
	switch strings.ToLower(logFormat) {
	case "auto", "":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors:             noColor,
			EnvironmentOverrideColors: true,
		})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "logfmt":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	case "pretty":
		logrus.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !noColor,
			FullTimestamp: false,
		})
	default:
		return fmt.Errorf("%w: %s", errInvalidLogFormat, logFormat)
	}

	return nil
}

// flagIsEnabled reports whether a boolean flag is set to true.
// Undefined flags count as disabled.
func flagIsEnabled(flags *pflag.FlagSet, name string) bool {
	value, err := flags.GetBool(name)
	if err != nil {
		logrus.WithField("flag", name).Debug("Flag is not defined")

		return false
	}

	return value
}

// appendFlagValue appends values to a slice-type flag.
func appendFlagValue(flags *pflag.FlagSet, name string, values ...string) error {
	flag := flags.Lookup(name)
	if flag == nil {
		return fmt.Errorf("%w: %q", errInvalidFlagName, name)
	}

	flagValues, ok := flag.Value.(pflag.SliceValue)
	if !ok {
		return fmt.Errorf("%w: %q", errNotSliceValue, name)
	}

	for _, value := range values {
		if err := flagValues.Append(value); err != nil {
			return fmt.Errorf("%w: %q: %w", errSetFlagFailed, name, err)
		}
	}

	return nil
}

// setFlagIfDefault sets a flag's value if it hasn't been explicitly changed.
func setFlagIfDefault(flags *pflag.FlagSet, name string, value string) {
	if flags.Changed(name) {
		return
	}

	if err := flags.Set(name, value); err != nil {
		logrus.WithError(err).WithField("flag", name).Error("Failed to set flag")
	}
}
