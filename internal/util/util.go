package util

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// timeUnit represents a single unit of time (hours, minutes, or seconds) with its value and labels.
type timeUnit struct {
	value    int64
	singular string
	plural   string
}

// FormatDuration converts a time.Duration into a human-readable string representation.
//
// It returns a string like "1 hour, 2 minutes, 3 seconds", or "0 seconds" for
// a zero duration.
func FormatDuration(duration time.Duration) string {
	const (
		minutesPerHour   = 60
		secondsPerMinute = 60
		timeUnitCount    = 3
	)

	units := []timeUnit{
		{int64(duration.Hours()), "hour", "hours"},
		{int64(math.Mod(duration.Minutes(), minutesPerHour)), "minute", "minutes"},
		{int64(math.Mod(duration.Seconds(), secondsPerMinute)), "second", "seconds"},
	}

	parts := make([]string, 0, timeUnitCount)
	for i, unit := range units {
		parts = append(
			parts,
			FormatTimeUnit(unit.value, unit.singular, unit.plural, i == len(units)-1 && len(parts) == 0),
		)
	}

	joined := strings.Join(FilterEmpty(parts), ", ")
	if joined == "" {
		return "0 seconds"
	}

	return joined
}

// FormatTimeUnit formats a single time unit with singular or plural grammar.
// Zero values are skipped unless forceInclude is set.
func FormatTimeUnit(value int64, singular, plural string, forceInclude bool) string {
	switch {
	case value == 1:
		return "1 " + singular
	case value > 1 || forceInclude:
		return fmt.Sprintf("%d %s", value, plural)
	default:
		return ""
	}
}

// FilterEmpty removes empty strings from a slice.
func FilterEmpty(parts []string) []string {
	var filtered []string

	for _, part := range parts {
		if part != "" {
			filtered = append(filtered, part)
		}
	}

	return filtered
}

// NormalizeContainerName trims the leading "/" the daemon puts on container names.
func NormalizeContainerName(name string) string {
	return strings.TrimPrefix(name, "/")
}

// UniqueNames normalizes names and drops empty entries and repeats, keeping
// the first occurrence order.
func UniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	unique := make([]string, 0, len(names))

	for _, name := range names {
		name = NormalizeContainerName(strings.TrimSpace(name))
		if name == "" {
			continue
		}

		if _, found := seen[name]; found {
			continue
		}

		seen[name] = struct{}{}
		unique = append(unique, name)
	}

	return unique
}
