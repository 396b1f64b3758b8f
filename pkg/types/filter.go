package types

// Filter decides whether a sweep visits a container.
//
// Parameters:
//   - ref: Container to evaluate.
//
// Returns:
//   - bool: True if the container passes the filter.
type Filter func(ref ContainerRef) bool
