// Package cmd contains the command-line interface of imagekeeper.
//
// Subcommands:
//   - detect: Report whether newer images exist for the named containers.
//   - apply: Replace the named containers, restoring the previous one on failure.
//   - history: List the recorded update attempts of a container.
//   - dangling: List images that lost their tag to an update.
//   - watch: Sweep all running containers on a cron schedule.
//   - notify-test: Send a sample notification through the configured services.
//
// Every subcommand shares the root's persistent flags, parsed with Cobra and
// Viper by the flags package, and opens the SQLite database named by --database.
package cmd
