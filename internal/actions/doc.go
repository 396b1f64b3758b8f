// Package actions implements the update engine: detecting newer images and
// replacing containers with them.
//
// Key components:
//   - Detector: Classifies a container as up to date, update available or
//     detection failed by comparing local and remote digests.
//   - Applicator: Runs one update attempt as a fixed sequence of steps with a
//     recovery branch that restores the old container, and writes exactly one
//     history record per attempt.
//   - Locks: Per-container mutual exclusion shared by both.
//
// Usage example:
//
//	deps := actions.Dependencies{Runtime: client, History: store, Lineage: tracker, Locks: actions.NewLocks()}
//	detector, _ := actions.NewDetector(deps)
//	applicator, _ := actions.NewApplicator(deps, actions.ApplyOptions{})
//	if verdict := detector.Detect(ctx, ref); verdict.Kind == types.UpdateAvailable {
//	    record, err := applicator.Apply(ctx, ref)
//	    if err != nil {
//	        logrus.WithError(err).WithField("status", record.Status).Error("Update failed")
//	    }
//	}
//
// Errors returned by Apply wrap one of the exported Err values and are
// matched with errors.Is.
package actions
