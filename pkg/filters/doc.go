// Package filters selects the containers a watch sweep visits by name.
//
// Key components:
//   - FilterByNames: Keeps containers matching a name or regular expression.
//   - FilterByDisableNames: Drops containers named explicitly.
//   - BuildFilter: Combines both into a single function with a description.
//
// Usage example:
//
//	filter, desc := filters.BuildFilter(names, disableNames, true)
//	logrus.Info(desc)
//	sweeper := &scheduling.Sweeper{Filter: filter}
package filters
