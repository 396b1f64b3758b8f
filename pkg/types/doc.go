// Package types defines the shared domain types of imagekeeper.
//
// Key components:
//   - ContainerRef, ImageReference, Digest: identities of containers and images.
//   - Snapshot: configuration captured before a container is replaced.
//   - Verdict: detection result (up to date, update available, failed).
//   - UpdateRecord: append-only audit entry, one per update attempt.
//   - ManagedImage: tracked image row with tag lineage.
//   - RuntimeClient: capability contract implemented per container runtime.
//   - HistoryStore, LineageStore, Notifier: collaborators of the update engine.
package types
