package filters

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagekeeper/internal/util"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// NoFilter allows all containers through.
//
// Returns:
//   - bool: Always true.
func NoFilter(ref types.ContainerRef) bool {
	logrus.WithField("container", ref).Trace("No filter applied")

	return true
}

// containerName returns the name of ref without the leading slash.
func containerName(ref types.ContainerRef) string {
	return util.NormalizeContainerName(ref.Name)
}

// FilterByNames selects containers matching specified names.
//
// A name matches exactly, with or without the leading slash, or as a regular
// expression covering the whole container name.
//
// Parameters:
//   - names: List of names or regex patterns to match.
//   - baseFilter: Base filter to chain.
//
// Returns:
//   - types.Filter: Filter function combining name check with base filter.
func FilterByNames(names []string, baseFilter types.Filter) types.Filter {
	if len(names) == 0 {
		return baseFilter
	}

	return func(ref types.ContainerRef) bool {
		name := containerName(ref)
		clog := logrus.WithFields(logrus.Fields{
			"container": name,
			"names":     names,
		})

		for _, pattern := range names {
			if util.NormalizeContainerName(pattern) == name {
				clog.Debug("Matched container by exact name")

				return baseFilter(ref)
			}

			re, err := regexp.Compile(pattern)
			if err != nil {
				clog.WithError(err).Warn("Invalid regex in name filter")

				continue
			}

			if indices := re.FindStringIndex(name); indices != nil && indices[0] == 0 && indices[1] == len(name) {
				clog.Debug("Matched container by regex")

				return baseFilter(ref)
			}
		}

		clog.Debug("Container name did not match any filter")

		return false
	}
}

// FilterByDisableNames excludes containers matching specified names.
//
// Parameters:
//   - disableNames: Names to exclude.
//   - baseFilter: Base filter to chain.
//
// Returns:
//   - types.Filter: Filter function excluding names and applying base filter.
func FilterByDisableNames(disableNames []string, baseFilter types.Filter) types.Filter {
	if len(disableNames) == 0 {
		return baseFilter
	}

	return func(ref types.ContainerRef) bool {
		name := containerName(ref)

		for _, disabled := range disableNames {
			if util.NormalizeContainerName(disabled) == name {
				logrus.WithField("container", name).Debug("Container excluded by disable name")

				return false
			}
		}

		return baseFilter(ref)
	}
}

// BuildFilter constructs a composite filter for a sweep.
//
// The enable label is applied by the runtime when listing, so it only
// contributes to the description here.
//
// Parameters:
//   - names: Names to include; empty means all.
//   - disableNames: Names to exclude.
//   - enableLabel: Whether the listing is restricted to labelled containers.
//
// Returns:
//   - types.Filter: Combined filter function.
//   - string: Description of the filter.
func BuildFilter(names []string, disableNames []string, enableLabel bool) (types.Filter, string) {
	names = util.FilterEmpty(names)
	disableNames = util.FilterEmpty(disableNames)

	logrus.WithFields(logrus.Fields{
		"names":        names,
		"disableNames": disableNames,
		"enableLabel":  enableLabel,
	}).Debug("Building container filter")

	filter := NoFilter
	filter = FilterByNames(names, filter)
	filter = FilterByDisableNames(disableNames, filter)

	var parts []string

	if len(names) > 0 {
		parts = append(parts, `which name matches "`+strings.Join(names, `" or "`)+`"`)
	}

	if len(disableNames) > 0 {
		parts = append(parts, `not named one of "`+strings.Join(disableNames, `" or "`)+`"`)
	}

	if enableLabel {
		parts = append(parts, "using enable label")
	}

	filterDesc := "Checking all running containers"
	if len(parts) > 0 {
		filterDesc = "Only checking containers " + strings.Join(parts, ", ")
	}

	return filter, filterDesc
}
