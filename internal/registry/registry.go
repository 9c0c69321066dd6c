// Package registry keeps the latest snapshot of every reporting device.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/logger"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/model"
)

// Entry is the server-held state for one device. Entries are replaced
// wholesale on every report and never mutated in place.
type Entry struct {
	Snapshot model.Snapshot
	LastSeen time.Time
}

// Item pairs a device id with its entry in List output.
type Item struct {
	ID    string
	Entry Entry
}

// Registry is the single shared device map. One RWMutex covers the whole map;
// device counts are in the tens, so sharding would buy nothing.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Entry
	logger  logger.Logger
}

// New returns an empty registry.
func New(log logger.Logger) *Registry {
	return &Registry{
		devices: make(map[string]Entry),
		logger:  log,
	}
}

// Upsert inserts or replaces the entry for id. Later calls win regardless of
// any timestamp the agent may have had in mind.
func (r *Registry) Upsert(id string, snap model.Snapshot, seenAt time.Time) {
	r.mu.Lock()
	_, existed := r.devices[id]
	r.devices[id] = Entry{Snapshot: snap, LastSeen: seenAt}
	r.mu.Unlock()

	if !existed {
		r.logger.Info().Str("device_id", id).Str("device_kind", snap.DeviceKind).Msg("New device registered")
	}
}

// Get returns the entry for id and whether it exists.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.devices[id]

	return e, ok
}

// List returns every entry sorted by device id.
func (r *Registry) List() []Item {
	r.mu.RLock()
	result := make([]Item, 0, len(r.devices))
	for id, e := range r.devices {
		result = append(result, Item{ID: id, Entry: e})
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result
}

// Len reports how many devices have ever reported.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.devices)
}
