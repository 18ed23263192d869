package guest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/guestlink-core/internal/link"
)

// DefaultCapacity is the maximum number of guests tracked.
const DefaultCapacity = 50

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Guest is one peer device seen on the link.
type Guest struct {
	MAC             link.Address `json:"mac"`
	LastMessageTime time.Time    `json:"lastMessageTime"`

	// ButtonPresses is the last counter value reported, not a running total.
	ButtonPresses uint32 `json:"buttonPresses"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(logger Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// Registry is a capacity-bounded collection of guests keyed by address.
//
// All methods are safe for concurrent use. One mutex protects the records
// and the notification state; visitors passed to ForEach run with it held.
type Registry struct {
	mu       sync.Mutex
	guests   []Guest              // Insertion order
	index    map[link.Address]int // MAC -> position in guests
	capacity int

	// Notification: gen counts upserts; changed is closed and replaced on
	// each one, waking every waiter.
	gen     uint64
	changed chan struct{}

	dropped uint64

	now    func() time.Time
	logger Logger
}

// NewRegistry creates an empty registry holding at most capacity guests.
// A non-positive capacity selects DefaultCapacity.
func NewRegistry(capacity int, opts ...Option) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Registry{
		guests:   make([]Guest, 0, capacity),
		index:    make(map[link.Address]int, capacity),
		capacity: capacity,
		changed:  make(chan struct{}),
		now:      time.Now,
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReportGuest records a message from mac carrying counter.
//
// A known guest has its timestamp refreshed and its counter overwritten. An
// unseen guest is appended, unless the registry is full, in which case the
// report is dropped.
//
// Parameters:
//   - mac: Sender address
//   - counter: Reported button counter (0 for discovery)
//
// Returns:
//   - bool: true if the registry changed and waiters were notified
func (r *Registry) ReportGuest(mac link.Address, counter uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()

	if i, ok := r.index[mac]; ok {
		r.guests[i].LastMessageTime = now
		r.guests[i].ButtonPresses = counter
	} else {
		if len(r.guests) >= r.capacity {
			r.dropped++
			r.logger.Warn("guest registry full, report dropped",
				"mac", mac.String(),
				"capacity", r.capacity,
				"dropped_total", r.dropped,
			)
			return false
		}
		r.index[mac] = len(r.guests)
		r.guests = append(r.guests, Guest{MAC: mac, LastMessageTime: now, ButtonPresses: counter})
		r.logger.Info("guest registered", "mac", mac.String(), "count", len(r.guests))
	}

	r.notifyLocked()
	return true
}

// notifyLocked wakes every waiter. Must be called with mu held.
func (r *Registry) notifyLocked() {
	r.gen++
	close(r.changed)
	r.changed = make(chan struct{})
}

// ForEach calls fn once per guest in insertion order while holding the
// registry lock. fn must not call back into the registry or block.
func (r *Registry) ForEach(fn func(Guest)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.guests {
		fn(g)
	}
}

// Snapshot returns a copy of all guests in insertion order.
func (r *Registry) Snapshot() []Guest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Guest, len(r.guests))
	copy(out, r.guests)
	return out
}

// SnapshotJSON serialises all guests as a JSON array. Serialisation happens
// under the registry lock, so the result is consistent as of one instant.
func (r *Registry) SnapshotJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := json.Marshal(r.guests)
	if err != nil {
		return nil, fmt.Errorf("marshalling guests: %w", err)
	}
	return data, nil
}

// Get returns the guest with address mac.
func (r *Registry) Get(mac link.Address) (Guest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[mac]
	if !ok {
		return Guest{}, fmt.Errorf("%w: %s", ErrNotFound, mac)
	}
	return r.guests[i], nil
}

// Len returns the number of registered guests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.guests)
}

// Capacity returns the maximum number of guests.
func (r *Registry) Capacity() int { return r.capacity }

// Dropped returns how many reports were lost to a full registry.
func (r *Registry) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// WaitForUpdate blocks until the registry changes after the call, timeout
// elapses or ctx is done. A negative timeout waits without limit.
//
// Returns true only for a real update.
func (r *Registry) WaitForUpdate(ctx context.Context, timeout time.Duration) bool {
	r.mu.Lock()
	ch := r.changed
	r.mu.Unlock()
	return wait(ctx, ch, timeout)
}

// Watch returns a Watcher positioned at the current generation.
func (r *Registry) Watch() *Watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Watcher{registry: r, gen: r.gen}
}

// Watcher observes registry updates with its own cursor. A Watcher is
// meant for a single consumer goroutine.
type Watcher struct {
	registry *Registry
	gen      uint64
}

// WaitForUpdate returns true immediately if the registry changed since the
// watcher last looked, otherwise it waits like Registry.WaitForUpdate.
func (w *Watcher) WaitForUpdate(ctx context.Context, timeout time.Duration) bool {
	r := w.registry

	r.mu.Lock()
	if r.gen != w.gen {
		w.gen = r.gen
		r.mu.Unlock()
		return true
	}
	ch := r.changed
	r.mu.Unlock()

	if !wait(ctx, ch, timeout) {
		return false
	}

	r.mu.Lock()
	w.gen = r.gen
	r.mu.Unlock()
	return true
}

func wait(ctx context.Context, ch <-chan struct{}, timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ch:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}
