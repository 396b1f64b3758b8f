// Package util provides small helpers shared by the imagekeeper commands.
//
// Key components:
//   - FormatDuration: Renders durations like "1 hour, 2 minutes".
//   - UniqueNames: Normalizes and deduplicates container names from the command line.
package util
