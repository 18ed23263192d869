package udp

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/guestlink-core/internal/link"
)

var (
	addrA = link.MustParseAddress("02:00:00:00:00:0A")
	addrB = link.MustParseAddress("02:00:00:00:00:0B")
	addrC = link.MustParseAddress("02:00:00:00:00:0C")
)

type rxEvent struct {
	src   link.Address
	frame []byte
}

func openRadio(t *testing.T, addr link.Address, broadcast string) *Radio {
	t.Helper()
	r, err := Open(Config{Listen: "127.0.0.1:0", Broadcast: broadcast, Address: addr})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func collect(t *testing.T, r *Radio) (<-chan rxEvent, <-chan bool) {
	t.Helper()
	rx := make(chan rxEvent, 8)
	done := make(chan bool, 8)
	err := r.Start(link.Callbacks{
		Receive: func(src link.Address, data []byte) {
			cp := make([]byte, len(data))
			copy(cp, data)
			rx <- rxEvent{src: src, frame: cp}
		},
		SendComplete: func(ok bool) { done <- ok },
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return rx, done
}

func TestTransmitReceive(t *testing.T) {
	b := openRadio(t, addrB, "127.0.0.1:9")
	a := openRadio(t, addrA, b.LocalUDPAddr().String())

	rxB, _ := collect(t, b)
	_, doneA := collect(t, a)

	frame := link.Encode(link.NewPackage(addrB, link.MustCommandID("CBUT"), link.Uint32Payload(2)))
	if err := a.Transmit(addrB, frame[:]); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}

	select {
	case ok := <-doneA:
		if !ok {
			t.Error("completion = false")
		}
	case <-time.After(time.Second):
		t.Fatal("no completion")
	}

	select {
	case ev := <-rxB:
		if ev.src != addrA {
			t.Errorf("source = %v, want %v", ev.src, addrA)
		}
		if string(ev.frame) != string(frame[:]) {
			t.Errorf("frame = %x, want %x", ev.frame, frame)
		}
	case <-time.After(time.Second):
		t.Fatal("frame not received")
	}
}

func TestReceiveFilters(t *testing.T) {
	b := openRadio(t, addrB, "127.0.0.1:9")
	rxB, _ := collect(t, b)

	// A radio whose datagrams land on b's socket but claim b's own address.
	spoof := openRadio(t, addrB, b.LocalUDPAddr().String())
	other := openRadio(t, addrA, b.LocalUDPAddr().String())
	collect(t, spoof)
	collect(t, other)

	own := link.Encode(link.NewPackage(link.Broadcast, link.MustCommandID("CDSC"), nil))
	if err := spoof.Transmit(link.Broadcast, own[:]); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}

	notMine := link.Encode(link.NewPackage(addrC, link.MustCommandID("CBUT"), nil))
	if err := other.Transmit(addrC, notMine[:]); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}

	// A broadcast from another address passes.
	bcast := link.Encode(link.NewPackage(link.Broadcast, link.MustCommandID("CDSC"), nil))
	if err := other.Transmit(link.Broadcast, bcast[:]); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}

	select {
	case ev := <-rxB:
		if ev.src != addrA || string(ev.frame[6:10]) != "CDSC" {
			t.Errorf("received %v %x, want the broadcast from %v", ev.src, ev.frame, addrA)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast not received")
	}

	select {
	case ev := <-rxB:
		t.Errorf("unexpected frame from %v: %x", ev.src, ev.frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPeersAndClose(t *testing.T) {
	r := openRadio(t, addrA, "127.0.0.1:9")
	collect(t, r)

	if r.HasPeer(addrB) {
		t.Error("HasPeer() = true before AddPeer")
	}
	if err := r.AddPeer(addrB); err != nil {
		t.Fatalf("AddPeer() error = %v", err)
	}
	if !r.HasPeer(addrB) {
		t.Error("HasPeer() = false after AddPeer")
	}
	if r.LocalAddress() != addrA {
		t.Errorf("LocalAddress() = %v, want %v", r.LocalAddress(), addrA)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if r.Ready() {
		t.Error("Ready() = true after Close")
	}
	if err := r.Transmit(addrB, make([]byte, link.FrameSize)); err == nil {
		t.Error("Transmit() after Close succeeded")
	}
}

// failingConn is a socket whose reads always fail with a non-close error.
type failingConn struct {
	reads atomic.Int32
}

func (c *failingConn) ReadFromUDP([]byte) (int, *net.UDPAddr, error) {
	c.reads.Add(1)
	return 0, nil, errors.New("connection refused")
}

func (c *failingConn) WriteToUDP(b []byte, _ *net.UDPAddr) (int, error) { return len(b), nil }
func (c *failingConn) LocalAddr() net.Addr                             { return &net.UDPAddr{} }
func (c *failingConn) Close() error                                     { return nil }

func TestReadLoop_BacksOffOnPersistentError(t *testing.T) {
	conn := &failingConn{}
	r := newRadio(conn, &net.UDPAddr{}, addrA, noopLogger{})
	if err := r.Start(link.Callbacks{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	// 10+20+40+80 ms of backoff fit in the window: a handful of reads,
	// not a busy loop.
	if n := conn.reads.Load(); n < 2 || n > 10 {
		t.Errorf("reads in 200ms = %d, want a few", n)
	}

	closed := make(chan struct{})
	go func() {
		_ = r.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not stop a backing-off read loop")
	}
}

func TestReceive_ShortDatagrams(t *testing.T) {
	b := openRadio(t, addrB, "127.0.0.1:9")
	rxB, _ := collect(t, b)

	sender, err := net.DialUDP("udp4", nil, b.LocalUDPAddr())
	if err != nil {
		t.Fatalf("DialUDP() error = %v", err)
	}
	defer sender.Close()

	// No complete source address: dropped at the radio.
	if _, err := sender.Write([]byte{0x02, 0x00, 0x00}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// Source plus a 4-byte frame: passed on for the transport to reject.
	runt := append(append([]byte(nil), addrA[:]...), 0xFF, 0xFF, 0xFF, 0xFF)
	if _, err := sender.Write(runt); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	select {
	case ev := <-rxB:
		if ev.src != addrA || len(ev.frame) != 4 {
			t.Errorf("received %v %x, want 4-byte frame from %v", ev.src, ev.frame, addrA)
		}
	case <-time.After(time.Second):
		t.Fatal("short frame not delivered")
	}
	select {
	case ev := <-rxB:
		t.Errorf("unexpected frame from %v: %x", ev.src, ev.frame)
	case <-time.After(50 * time.Millisecond):
	}
}
