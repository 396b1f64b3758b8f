// Package notifications sends finished update records to operators through
// Shoutrrr services.
//
// Key components:
//   - Notifier: Renders each record with a template and delivers it in the
//     background (shoutrrr.go).
//   - NewNotifier: Builds a Notifier from command flags (notifier.go).
//   - Data: Template data model with JSON marshaling (model.go, json.go).
//
// Built-in templates are "default", "porcelain.v1" and "json.v1"; any other
// value of --notification-template is parsed as a Go text template.
//
// Usage example:
//
//	notifier, err := notifications.NewNotifier(cmd)
//	if err != nil {
//	    return err
//	}
//	if notifier != nil {
//	    defer notifier.Close()
//	}
package notifications
