package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults.
const (
	DefaultMaxClients        = 8
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
)

// Push kinds reported to Metrics.
const (
	KindSnapshot  = "snapshot"
	KindKeepalive = "keepalive"
)

// Sink is one subscriber connection.
type Sink interface {
	WriteSnapshot(data []byte) error
	WriteKeepalive() error
}

// Source serialises the current registry contents.
type Source interface {
	SnapshotJSON() ([]byte, error)
}

// Watcher reports registry updates.
type Watcher interface {
	WaitForUpdate(ctx context.Context, timeout time.Duration) bool
}

// Metrics receives fan-out events.
type Metrics interface {
	ObservePush(kind string)
	ObserveEviction()
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Multiplexer.
type Options struct {
	// MaxClients is the number of subscriber slots. Default: 8.
	MaxClients int

	// KeepaliveInterval is how long Run waits for an update before sending
	// keepalives. Default: 30s.
	KeepaliveInterval time.Duration

	// SnapshotOnConnect sends the current snapshot to each new subscriber.
	SnapshotOnConnect bool

	// WriteTimeout bounds how long Push and Keepalive wait for one sink.
	// A sink still writing after that is evicted. Default: 10s.
	WriteTimeout time.Duration

	Metrics Metrics
	Logger  Logger
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		MaxClients:        DefaultMaxClients,
		KeepaliveInterval: DefaultKeepaliveInterval,
		SnapshotOnConnect: true,
		WriteTimeout:      DefaultWriteTimeout,
	}
}

// Subscription is a claimed slot.
type Subscription struct {
	id   string
	slot int
	done chan struct{}
	once sync.Once
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Done is closed when the subscription is evicted or released.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) end() {
	s.once.Do(func() { close(s.done) })
}

type slot struct {
	active bool
	sink   Sink
	sub    *Subscription
}

// Multiplexer fans registry snapshots out to a fixed set of subscriber slots.
//
// One mutex protects the slot table. It is never held while writing to a
// sink: a pass copies the active slots, writes without the lock and then
// evicts the failures that still own their slot.
type Multiplexer struct {
	source  Source
	watcher Watcher
	opts    Options
	logger  Logger

	mu    sync.Mutex
	slots []slot
}

// New creates a multiplexer reading snapshots from source and updates from
// watcher.
func New(source Source, watcher Watcher, opts Options) *Multiplexer {
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Multiplexer{
		source:  source,
		watcher: watcher,
		opts:    opts,
		logger:  logger,
		slots:   make([]slot, opts.MaxClients),
	}
}

// Subscribe claims the first free slot for sink.
//
// With SnapshotOnConnect the current snapshot is serialised before the slot
// table is locked and written once the slot is claimed, outside the lock.
// If that write fails the slot is released again.
//
// Returns:
//   - *Subscription: The claimed slot, nil if rejected
//   - bool: false if every slot is taken or the initial write failed
func (m *Multiplexer) Subscribe(sink Sink) (*Subscription, bool) {
	var snapshot []byte
	if m.opts.SnapshotOnConnect {
		data, err := m.source.SnapshotJSON()
		if err != nil {
			m.logger.Error("serialising snapshot for new subscriber", "error", err)
		} else {
			snapshot = data
		}
	}

	m.mu.Lock()
	idx := -1
	for i := range m.slots {
		if !m.slots[i].active {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		m.logger.Warn("subscriber rejected, all slots busy", "max_clients", len(m.slots))
		return nil, false
	}

	sub := &Subscription{id: uuid.NewString(), slot: idx, done: make(chan struct{})}
	m.slots[idx] = slot{active: true, sink: sink, sub: sub}
	active := m.activeLocked()
	m.mu.Unlock()

	if snapshot != nil {
		if err := sink.WriteSnapshot(snapshot); err != nil {
			m.logger.Debug("initial snapshot failed, slot released", "slot", idx, "error", err)
			m.evict([]*Subscription{sub})
			return nil, false
		}
		m.observePush(KindSnapshot)
	}

	m.logger.Info("subscriber connected", "slot", idx, "subscription", sub.id, "active", active)
	return sub, true
}

// Unsubscribe releases sub's slot. It is a no-op if the slot was already
// evicted.
func (m *Multiplexer) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slots[sub.slot]
	if !s.active || s.sub != sub {
		return
	}
	m.slots[sub.slot] = slot{}
	sub.end()
	m.logger.Info("subscriber disconnected", "slot", sub.slot, "subscription", sub.id, "active", m.activeLocked())
}

// ForEachClient calls fn for every active sink. Returning false evicts
// that sink. fn runs without the slot lock, so a slow sink delays only
// the caller.
func (m *Multiplexer) ForEachClient(fn func(Sink) bool) {
	var failed []*Subscription
	for _, t := range m.targets() {
		if !fn(t.sink) {
			failed = append(failed, t.sub)
		}
	}
	m.evict(failed)
}

// Push writes snapshot to every active sink, evicting those that fail or
// do not finish within WriteTimeout. It returns the number of sinks that
// accepted the write.
func (m *Multiplexer) Push(snapshot []byte) int {
	delivered := m.deliver(func(s Sink) error { return s.WriteSnapshot(snapshot) })
	m.observePush(KindSnapshot)
	return delivered
}

// Keepalive writes a keepalive to every active sink, evicting those that
// fail or stall. It returns the number of sinks that accepted the write.
func (m *Multiplexer) Keepalive() int {
	delivered := m.deliver(func(s Sink) error { return s.WriteKeepalive() })
	m.observePush(KindKeepalive)
	return delivered
}

type target struct {
	sink Sink
	sub  *Subscription
}

type writeResult struct {
	idx int
	err error
}

// targets copies the active slots.
func (m *Multiplexer) targets() []target {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]target, 0, len(m.slots))
	for i := range m.slots {
		if m.slots[i].active {
			out = append(out, target{sink: m.slots[i].sink, sub: m.slots[i].sub})
		}
	}
	return out
}

// deliver runs write against every active sink in parallel and waits at
// most WriteTimeout. Sinks that fail or are still writing are evicted.
func (m *Multiplexer) deliver(write func(Sink) error) int {
	targets := m.targets()
	if len(targets) == 0 {
		return 0
	}

	// Buffered so writers that outlive the timeout never block.
	results := make(chan writeResult, len(targets))
	for i, t := range targets {
		i, t := i, t
		go func() {
			results <- writeResult{idx: i, err: write(t.sink)}
		}()
	}

	timer := time.NewTimer(m.opts.WriteTimeout)
	defer timer.Stop()

	finished := make([]bool, len(targets))
	delivered := 0
	var failed []*Subscription

wait:
	for pending := len(targets); pending > 0; pending-- {
		select {
		case r := <-results:
			finished[r.idx] = true
			if r.err != nil {
				m.logger.Debug("sink write failed", "subscription", targets[r.idx].sub.id, "error", r.err)
				failed = append(failed, targets[r.idx].sub)
				continue
			}
			delivered++
		case <-timer.C:
			for i, done := range finished {
				if !done {
					m.logger.Warn("sink write stalled", "subscription", targets[i].sub.id,
						"timeout", m.opts.WriteTimeout.String())
					failed = append(failed, targets[i].sub)
				}
			}
			break wait
		}
	}

	m.evict(failed)
	return delivered
}

// evict frees the slots still owned by subs.
func (m *Multiplexer) evict(subs []*Subscription) {
	if len(subs) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range subs {
		if s := m.slots[sub.slot]; s.active && s.sub == sub {
			m.evictLocked(sub.slot)
		}
	}
}

// Run pushes a snapshot on every registry update and a keepalive after each
// quiet interval, until ctx is done.
func (m *Multiplexer) Run(ctx context.Context) error {
	m.logger.Info("fan-out started",
		"max_clients", len(m.slots),
		"keepalive_interval", m.opts.KeepaliveInterval.String(),
	)

	for {
		updated := m.watcher.WaitForUpdate(ctx, m.opts.KeepaliveInterval)
		if err := ctx.Err(); err != nil {
			return err
		}

		if !updated {
			m.Keepalive()
			continue
		}

		// Serialised under the registry lock, which is released here.
		data, err := m.source.SnapshotJSON()
		if err != nil {
			m.logger.Error("serialising snapshot", "error", err)
			continue
		}
		m.Push(data)
	}
}

// Active returns the number of occupied slots.
func (m *Multiplexer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// MaxClients returns the number of slots.
func (m *Multiplexer) MaxClients() int { return len(m.slots) }

// Close evicts every subscriber, ending their subscriptions.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.slots {
		if m.slots[i].active {
			m.slots[i].sub.end()
			m.slots[i] = slot{}
		}
	}
	return nil
}

// evictLocked frees slot i. Must be called with mu held.
func (m *Multiplexer) evictLocked(i int) {
	sub := m.slots[i].sub
	m.slots[i] = slot{}
	if sub != nil {
		sub.end()
		m.logger.Info("subscriber evicted", "slot", i, "subscription", sub.id)
	}
	if m.opts.Metrics != nil {
		m.opts.Metrics.ObserveEviction()
	}
}

func (m *Multiplexer) activeLocked() int {
	n := 0
	for i := range m.slots {
		if m.slots[i].active {
			n++
		}
	}
	return n
}

func (m *Multiplexer) observePush(kind string) {
	if m.opts.Metrics != nil {
		m.opts.Metrics.ObservePush(kind)
	}
}
