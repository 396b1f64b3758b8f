package cmd

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicholas-fedor/imagekeeper/internal/flags"
	"github.com/nicholas-fedor/imagekeeper/internal/meta"
	"github.com/nicholas-fedor/imagekeeper/pkg/registry/auth"
)

// errUnsuccessful marks a command that ran but had failing containers. Its
// details were already printed, so Execute only sets the exit status.
var errUnsuccessful = errors.New("one or more containers failed")

// rootCmd represents the root command for the imagekeeper CLI.
var rootCmd = NewRootCommand()

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "imagekeeper",
		Short: "Keeps container images up to date, safely",
		Long: "\nimagekeeper detects newer images for running containers and replaces them," +
			"\nrestoring the previous container when the new one fails to start.",
		PersistentPreRunE: preRun,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Version:           meta.Version,
	}

	root.AddCommand(
		newDetectCommand(),
		newApplyCommand(),
		newHistoryCommand(),
		newDanglingCommand(),
		newWatchCommand(),
		newNotifyTestCommand(),
	)

	return root
}

func init() {
	auth.UserAgent = "imagekeeper/" + meta.Version

	flags.SetDefaults()
	flags.RegisterDockerFlags(rootCmd)
	flags.RegisterSystemFlags(rootCmd)
	flags.RegisterNotificationFlags(rootCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errUnsuccessful) {
			logrus.WithError(err).Error("Command failed")
		}

		os.Exit(1)
	}
}

// preRun resolves flag aliases and secrets, then configures logging and the
// Docker environment for every subcommand.
func preRun(cmd *cobra.Command, _ []string) error {
	flagsSet := cmd.Flags()

	if err := flags.ProcessFlagAliases(flagsSet); err != nil {
		return err
	}

	if err := flags.SetupLogging(flagsSet); err != nil {
		return err
	}

	if err := flags.GetSecretsFromFiles(cmd.Root()); err != nil {
		return err
	}

	if err := flags.EnvConfig(cmd.Root()); err != nil {
		return err
	}

	logrus.WithField("version", meta.Version).Debug("Configuration loaded")

	return nil
}
