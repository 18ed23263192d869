// Package sim provides an in-memory radio medium.
//
// Radios attached to the same Medium hear each other's broadcasts and can
// unicast to each other. Each radio delivers its received frames from its own
// goroutine, which plays the part of the interrupt context.
//
// Besides normal traffic, a Radio exposes hooks for tests: Inject delivers raw
// bytes (including malformed frames), SetCompletionDelay and
// SetCompletionStatus shape the send-completion callback, and OnTransmit
// observes outgoing frames.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/guestlink-core/internal/link"
)

// inboxSize is the per-radio delivery buffer. Frames arriving at a full
// inbox are lost, as they would be on air.
const inboxSize = 64

// Errors returned by simulated radios.
var (
	ErrClosed         = errors.New("sim: radio closed")
	ErrNotStarted     = errors.New("sim: radio not started")
	ErrAlreadyStarted = errors.New("sim: radio already started")
	ErrAddressInUse   = errors.New("sim: address already attached to medium")
)

// Completion selects how a radio reports send completion.
type Completion int

const (
	// CompletionAuto succeeds when the destination is broadcast or attached
	// to the medium, and fails otherwise.
	CompletionAuto Completion = iota
	// CompletionOK always reports success.
	CompletionOK
	// CompletionFail always reports failure.
	CompletionFail
	// CompletionNone never reports, forcing the sender to time out.
	CompletionNone
)

// Medium is a shared in-memory broadcast domain.
type Medium struct {
	mu     sync.RWMutex
	radios map[link.Address]*Radio
}

// NewMedium creates an empty medium.
func NewMedium() *Medium {
	return &Medium{radios: make(map[link.Address]*Radio)}
}

// Attached reports whether a radio with addr is on the medium.
func (m *Medium) Attached(addr link.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.radios[addr]
	return ok
}

func (m *Medium) attach(r *Radio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.radios[r.addr]; ok {
		return fmt.Errorf("%w: %s", ErrAddressInUse, r.addr)
	}
	m.radios[r.addr] = r
	return nil
}

func (m *Medium) detach(r *Radio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.radios[r.addr] == r {
		delete(m.radios, r.addr)
	}
}

// route hands a frame to every radio that would hear it.
func (m *Medium) route(src, dst link.Address, frame []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if dst.IsBroadcast() {
		for addr, r := range m.radios {
			if addr != src {
				r.enqueue(src, frame)
			}
		}
		return
	}
	if r, ok := m.radios[dst]; ok && dst != src {
		r.enqueue(src, frame)
	}
}

type delivery struct {
	src   link.Address
	frame []byte
}

// Radio is a simulated link.Radio attached to a Medium.
type Radio struct {
	medium *Medium
	addr   link.Address

	mu         sync.Mutex
	ready      bool
	started    bool
	closed     bool
	cb         link.Callbacks
	peers      map[link.Address]struct{}
	delay      time.Duration
	completion Completion
	onTransmit func(dst link.Address, frame []byte)

	inbox chan delivery
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewRadio attaches a new radio with address addr to medium.
// The radio is ready immediately.
func NewRadio(medium *Medium, addr link.Address) (*Radio, error) {
	r := &Radio{
		medium: medium,
		addr:   addr,
		ready:  true,
		peers:  make(map[link.Address]struct{}),
		inbox:  make(chan delivery, inboxSize),
		done:   make(chan struct{}),
	}
	if err := medium.attach(r); err != nil {
		return nil, err
	}
	return r, nil
}

// SetReady controls what Ready reports, to exercise bring-up ordering.
func (r *Radio) SetReady(ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = ready
}

// SetCompletionDelay delays every following send completion by d.
func (r *Radio) SetCompletionDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// SetCompletionStatus overrides the completion reported for following sends.
func (r *Radio) SetCompletionStatus(c Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completion = c
}

// OnTransmit registers fn to observe every outgoing frame. fn receives a
// private copy of the frame.
func (r *Radio) OnTransmit(fn func(dst link.Address, frame []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransmit = fn
}

// Ready implements link.Radio.
func (r *Radio) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready && !r.closed
}

// Start implements link.Radio. It starts the delivery goroutine.
func (r *Radio) Start(cb link.Callbacks) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return ErrClosed
	case r.started:
		return ErrAlreadyStarted
	}

	r.cb = cb
	r.started = true
	r.wg.Add(1)
	go r.deliverLoop()
	return nil
}

// LocalAddress implements link.Radio.
func (r *Radio) LocalAddress() link.Address { return r.addr }

// AddPeer implements link.Radio.
func (r *Radio) AddPeer(addr link.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.peers[addr] = struct{}{}
	return nil
}

// HasPeer implements link.Radio.
func (r *Radio) HasPeer(addr link.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[addr]
	return ok
}

// Transmit implements link.Radio. The frame is routed to the receivers on
// the medium and completion is reported from a separate goroutine.
func (r *Radio) Transmit(dst link.Address, frame []byte) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	cb := r.cb
	delay := r.delay
	mode := r.completion
	observe := r.onTransmit
	r.mu.Unlock()

	data := make([]byte, len(frame))
	copy(data, frame)

	if observe != nil {
		observe(dst, data)
	}

	r.medium.route(r.addr, dst, data)

	var ok bool
	switch mode {
	case CompletionNone:
		return nil
	case CompletionOK:
		ok = true
	case CompletionFail:
		ok = false
	default:
		ok = dst.IsBroadcast() || r.medium.Attached(dst)
	}

	if cb.SendComplete != nil {
		time.AfterFunc(delay, func() { cb.SendComplete(ok) })
	}
	return nil
}

// Inject delivers raw bytes as if they had arrived from src, bypassing the
// medium. It returns once the receive callback has run, so tests can assert
// on its effect immediately.
func (r *Radio) Inject(src link.Address, raw []byte) error {
	r.mu.Lock()
	cb := r.cb
	started := r.started && !r.closed
	r.mu.Unlock()

	if !started {
		return ErrNotStarted
	}
	if cb.Receive != nil {
		cb.Receive(src, raw)
	}
	return nil
}

// Close detaches the radio from the medium and stops delivery.
// Safe to call multiple times.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.medium.detach(r)
	r.wg.Wait()
	return nil
}

func (r *Radio) enqueue(src link.Address, frame []byte) {
	select {
	case r.inbox <- delivery{src: src, frame: frame}:
	default:
	}
}

func (r *Radio) deliverLoop() {
	defer r.wg.Done()
	for {
		select {
		case d := <-r.inbox:
			if r.cb.Receive != nil {
				r.cb.Receive(d.src, d.frame)
			}
		case <-r.done:
			return
		}
	}
}
