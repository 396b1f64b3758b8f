// Package flags manages command-line flags and environment variables for imagekeeper.
// It configures the Docker connection, update behavior, persistence and notifications via Cobra and Viper.
//
// Key components:
//   - RegisterDockerFlags: Adds Docker API client flags.
//   - RegisterSystemFlags: Adds update, database, logging and HTTP API flags.
//   - RegisterNotificationFlags: Adds notification settings.
//   - ReadApplyOptions: Collects the options for a single update attempt.
//   - SetupLogging: Configures logrus based on flags.
//
// Usage example:
//
//	cmd := &cobra.Command{}
//	flags.SetDefaults()
//	flags.RegisterSystemFlags(cmd)
//	if err := flags.SetupLogging(cmd.PersistentFlags()); err != nil {
//	    logrus.WithError(err).Fatal("Logging setup failed")
//	}
//
// Every flag can also be set through an IMAGEKEEPER_ prefixed environment
// variable; the Docker flags use the standard DOCKER_ variables.
package flags
