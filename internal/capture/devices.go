package capture

import (
	"fmt"
	"sync"
)

// openMu serializes library and process init calls. Device enumeration and
// initialization are not thread-safe on every platform; waits for a device's
// first data and reads stay unsynchronized.
var openMu sync.Mutex

// DeviceRegistry tracks which devices currently have an open handle.
type DeviceRegistry struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewDeviceRegistry returns an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{held: make(map[string]bool)}
}

// DefaultRegistry is shared by every backend and monitor in the process.
var DefaultRegistry = NewDeviceRegistry()

// Acquire marks key as held. It fails fast with ErrDeviceBusy when another
// handle owns the device. The returned release func is idempotent.
func (r *DeviceRegistry) Acquire(key string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.held[key] {
		return nil, fmt.Errorf("%s: %w", key, ErrDeviceBusy)
	}
	r.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, key)
			r.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently owned.
func (r *DeviceRegistry) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[key]
}

// withOpenLock runs fn while holding the global device-open lock. Openers wrap
// only their library and process init calls in it, never a wait on the device.
func withOpenLock[T any](fn func() (T, error)) (T, error) {
	openMu.Lock()
	defer openMu.Unlock()
	return fn()
}
