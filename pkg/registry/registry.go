package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/mygasbridge/mygasbridge/pkg/types"
)

// namespace scopes the generated device ids to this bridge.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/mygasbridge/mygasbridge"))

// DeviceID returns the device id for a stable identifier. The same identifier
// always maps to the same id.
func DeviceID(identifier string) string {
	return uuid.NewSHA1(namespace, []byte(identifier)).String()
}

// Entry is a registered device.
type Entry struct {
	ID          string              `json:"id"`
	Identifiers []string            `json:"identifiers"`
	Device      types.CounterDevice `json:"device"`
}

// Registry maps device ids to the identifiers of the counters they were
// created for.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Sync replaces the registered devices with devices and returns the ids of the
// devices that are gone.
func (r *Registry) Sync(ctx context.Context, devices []types.CounterDevice) []string {
	entries := make(map[string]Entry, len(devices))
	order := make([]string, 0, len(devices))
	for _, d := range devices {
		id := DeviceID(d.Identifier)
		if _, ok := entries[id]; ok {
			log.Ctx(ctx).WarnContext(ctx, "duplicate counter identifier", slog.String("identifier", d.Identifier))
			continue
		}
		entries[id] = Entry{
			ID:          id,
			Identifiers: []string{d.Identifier},
			Device:      d,
		}
		order = append(order, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for _, id := range r.order {
		if _, ok := entries[id]; !ok {
			removed = append(removed, id)
		}
	}
	for _, id := range order {
		if _, ok := r.entries[id]; !ok {
			log.Ctx(ctx).InfoContext(
				ctx,
				"registered device",
				slog.String("deviceID", id),
				slog.String("identifier", entries[id].Device.Identifier),
			)
		}
	}
	r.entries = entries
	r.order = order
	return removed
}

// Identifiers returns the identifiers a device was registered with.
func (r *Registry) Identifiers(deviceID string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[deviceID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), e.Identifiers...), true
}

// Get returns a single device.
func (r *Registry) Get(deviceID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[deviceID]
	return e, ok
}

// Devices returns every registered device in registration order.
func (r *Registry) Devices() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		l = append(l, r.entries[id])
	}
	return l
}
