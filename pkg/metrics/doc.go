// Package metrics exposes update engine activity to Prometheus.
//
// Key components:
//   - Metrics: Counters for detection verdicts, update outcomes and history
//     writes, an in-flight gauge and an update duration histogram.
//   - Default: Process-wide handler on the default registry.
//
// Usage example:
//
//	m := metrics.Default()
//	done := m.StartApply()
//	record, err := applicator.Apply(ctx, ref)
//	done(record.Status)
//
// The handler is safe for concurrent use.
package metrics
