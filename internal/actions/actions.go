package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/nicholas-fedor/imagekeeper/internal/util"
	"github.com/nicholas-fedor/imagekeeper/pkg/metrics"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// BusyPolicy selects what an operation does when another one holds the
// container's lock.
type BusyPolicy string

// Busy policies.
const (
	BusyWait   BusyPolicy = "wait"   // Block until the lock is free or the context ends.
	BusyReject BusyPolicy = "reject" // Fail immediately with ErrBusy.
)

// ParseBusyPolicy parses a policy name case-insensitively; empty means wait.
func ParseBusyPolicy(name string) (BusyPolicy, error) {
	switch BusyPolicy(strings.ToLower(strings.TrimSpace(name))) {
	case "", BusyWait:
		return BusyWait, nil
	case BusyReject:
		return BusyReject, nil
	default:
		return "", fmt.Errorf("%w: unknown busy policy %q", errInvalidOption, name)
	}
}

// Dependencies are the collaborators shared by the Detector and the Applicator.
//
// Detector and Applicator working on the same containers must share one Locks
// value. Metrics defaults to metrics.Default(); Lineage and Notifier are
// optional.
type Dependencies struct {
	Runtime    types.RuntimeClient
	History    types.HistoryStore
	Lineage    types.LineageStore
	Notifier   types.Notifier
	Locks      *Locks
	Metrics    *metrics.Metrics
	BusyPolicy BusyPolicy
}

// withDefaults fills optional collaborators and checks the runtime is set.
func (d Dependencies) withDefaults() (Dependencies, error) {
	if d.Runtime == nil {
		return d, fmt.Errorf("%w: runtime client", errMissingDependency)
	}

	if d.Locks == nil {
		d.Locks = NewLocks()
	}

	if d.Metrics == nil {
		d.Metrics = metrics.Default()
	}

	if d.BusyPolicy == "" {
		d.BusyPolicy = BusyWait
	}

	return d, nil
}

// lock takes the container lock for key according to the busy policy.
func (d Dependencies) lock(ctx context.Context, key string) (func(), error) {
	if d.BusyPolicy == BusyReject {
		return d.Locks.TryAcquire(key)
	}

	release, err := d.Locks.Acquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}

	return release, nil
}

// lockKey returns the container name, which survives recreation. A reference
// carrying only an id is inspected to learn the name.
func (d Dependencies) lockKey(ctx context.Context, ref types.ContainerRef) (string, error) {
	if name := util.NormalizeContainerName(ref.Name); name != "" {
		return name, nil
	}

	if ref.ID == "" {
		return "", fmt.Errorf("%w: empty container reference", errResolveNameFailed)
	}

	snapshot, err := d.Runtime.InspectContainer(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errResolveNameFailed, err)
	}

	name := util.NormalizeContainerName(snapshot.Container.Name)
	if name == "" {
		return string(snapshot.Container.ID), nil
	}

	return name, nil
}
