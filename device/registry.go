package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Registry indexes the composed fleet by UUID and routes asynchronous
// pushes to the owning device.
type Registry struct {
	log Logger

	mu     sync.RWMutex
	byUUID map[string]*Device
}

// NewRegistry returns an empty registry.
func NewRegistry(log Logger) *Registry {
	if log == nil {
		log = noopLogger{}
	}
	return &Registry{
		log:    log,
		byUUID: make(map[string]*Device),
	}
}

// Add enrolls a device. An unbind push later removes it automatically.
func (r *Registry) Add(d *Device) error {
	uuid := d.UUID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUUID[uuid]; ok {
		return fmt.Errorf("uuid %s: %w", uuid, ErrAlreadyRegistered)
	}
	d.setRetireHook(r.remove)
	r.byUUID[uuid] = d
	return nil
}

// Get returns the device for a UUID.
func (r *Registry) Get(uuid string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byUUID[uuid]
	if !ok {
		return nil, fmt.Errorf("uuid %s: %w", uuid, ErrNotFound)
	}
	return d, nil
}

// Remove drops a device from the index.
func (r *Registry) Remove(uuid string) {
	r.remove(uuid)
}

func (r *Registry) remove(uuid string) {
	r.mu.Lock()
	delete(r.byUUID, uuid)
	r.mu.Unlock()
}

// Len returns the number of enrolled devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUUID)
}

// All returns every enrolled device.
func (r *Registry) All() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.byUUID))
	for _, d := range r.byUUID {
		out = append(out, d)
	}
	return out
}

// UUIDs returns the enrolled identifiers.
func (r *Registry) UUIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUUID))
	for uuid := range r.byUUID {
		out = append(out, uuid)
	}
	return out
}

// Find returns the devices matching the predicate.
func (r *Registry) Find(match func(*Device) bool) []*Device {
	var out []*Device
	for _, d := range r.All() {
		if match(d) {
			out = append(out, d)
		}
	}
	return out
}

// FindByType returns the devices whose model identifier matches,
// case-insensitively.
func (r *Registry) FindByType(deviceType string) []*Device {
	return r.Find(func(d *Device) bool {
		return strings.EqualFold(d.Type(), deviceType)
	})
}

// FindByName returns the devices whose user-assigned name matches,
// case-insensitively.
func (r *Registry) FindByName(name string) []*Device {
	return r.Find(func(d *Device) bool {
		return strings.EqualFold(d.Name(), name)
	})
}

// DispatchPush routes one push to its device. Pushes for unknown
// devices and pushes no module consumed are logged and dropped; the
// account may contain hardware newer than this library.
func (r *Registry) DispatchPush(uuid, namespace string, payload json.RawMessage, sentAt time.Time) {
	d, err := r.Get(uuid)
	if err != nil {
		r.log.Warn("push for unknown device",
			"uuid", uuid, "namespace", namespace)
		return
	}
	if !d.HandlePush(namespace, payload, sentAt) {
		r.log.Warn("push not consumed by any capability",
			"uuid", uuid, "namespace", namespace)
	}
}
