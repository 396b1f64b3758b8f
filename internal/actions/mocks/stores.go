package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// HistoryStore is an in-memory types.HistoryStore.
type HistoryStore struct {
	mu        sync.Mutex
	records   []types.UpdateRecord
	AppendErr error // Returned by Append instead of storing when set.
	attempts  int
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

// Append stores a copy of record and assigns its id.
func (h *HistoryStore) Append(_ context.Context, record *types.UpdateRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts++

	if h.AppendErr != nil {
		return h.AppendErr
	}

	record.ID = int64(len(h.records) + 1)
	h.records = append(h.records, *record)

	return nil
}

// QueryByContainer returns records for id, newest first.
func (h *HistoryStore) QueryByContainer(_ context.Context, id types.ContainerID, limit int) ([]types.UpdateRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var found []types.UpdateRecord

	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].ContainerID == id {
			found = append(found, h.records[i])
		}
	}

	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	return found, nil
}

// Records returns all stored records in append order.
func (h *HistoryStore) Records() []types.UpdateRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]types.UpdateRecord(nil), h.records...)
}

// Attempts returns how many times Append was called, stored or not.
func (h *HistoryStore) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.attempts
}

// LineageStore is an in-memory types.LineageStore with first-wins transitions.
type LineageStore struct {
	mu         sync.Mutex
	images     map[types.ImageID]types.ManagedImage
	RefreshErr error
}

// NewLineageStore creates an empty lineage store.
func NewLineageStore() *LineageStore {
	return &LineageStore{images: make(map[types.ImageID]types.ManagedImage)}
}

// Refresh upserts image. A tagged row is no longer dangling.
func (l *LineageStore) Refresh(_ context.Context, image types.ManagedImage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.RefreshErr != nil {
		return l.RefreshErr
	}

	now := time.Now()
	row, ok := l.images[image.ImageID]

	if !ok {
		row = types.ManagedImage{ImageID: image.ImageID, FirstSeen: now}
	}

	if image.Repository != "" {
		row.Repository = image.Repository
	}

	if image.Digest != "" {
		row.Digest = image.Digest
	}

	if image.CurrentTag != "" {
		row.CurrentTag = image.CurrentTag
		row.PreviousTag = ""
		row.TransitionedAt = nil
	}

	row.LastSeen = now
	l.images[image.ImageID] = row

	return nil
}

// RecordTagTransition marks id dangling with oldTag, keeping the first
// transition.
func (l *LineageStore) RecordTagTransition(_ context.Context, id types.ImageID, oldTag string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	row, ok := l.images[id]

	if !ok {
		row = types.ManagedImage{ImageID: id, FirstSeen: now}
	}

	if row.PreviousTag == "" {
		row.CurrentTag = ""
		row.PreviousTag = oldTag
		row.TransitionedAt = &now
	}

	row.LastSeen = now
	l.images[id] = row

	return nil
}

// ListDangling returns rows without a current tag, newest transition first.
func (l *LineageStore) ListDangling(_ context.Context) ([]types.ManagedImage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var dangling []types.ManagedImage

	for _, row := range l.images {
		if row.Dangling() {
			dangling = append(dangling, row)
		}
	}

	sort.Slice(dangling, func(i, j int) bool {
		a, b := dangling[i].TransitionedAt, dangling[j].TransitionedAt
		if a == nil || b == nil {
			return a != nil
		}

		return a.After(*b)
	})

	return dangling, nil
}

// Image returns the row for id.
func (l *LineageStore) Image(id types.ImageID) (types.ManagedImage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.images[id]

	return row, ok
}

// Notifier records the update records it is given.
type Notifier struct {
	mu      sync.Mutex
	records []types.UpdateRecord
}

// Notify records record.
func (n *Notifier) Notify(record types.UpdateRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.records = append(n.records, record)
}

// Records returns the notified records in order.
func (n *Notifier) Records() []types.UpdateRecord {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]types.UpdateRecord(nil), n.records...)
}
