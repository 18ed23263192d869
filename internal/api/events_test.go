package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/thiefmaster/eventsource"
)

// nopSink occupies a fan-out slot without writing anywhere.
type nopSink struct{}

func (nopSink) WriteSnapshot([]byte) error { return nil }
func (nopSink) WriteKeepalive() error      { return nil }

// startStreamServer serves the API over a real listener and runs the
// fan-out loop until the test ends.
func startStreamServer(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()

	env := testServer(t)
	ts := httptest.NewServer(env.srv.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.mux.Run(ctx) //nolint:errcheck // returns ctx.Err()
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		env.mux.Close() //nolint:errcheck // always nil
		ts.CloseClientConnections()
		ts.Close()
	})
	return env, ts
}

// fillSlots occupies every free fan-out slot.
func fillSlots(t *testing.T, env *testEnv) {
	t.Helper()
	for env.mux.Active() < env.mux.MaxClients() {
		if _, ok := env.mux.Subscribe(nopSink{}); !ok {
			t.Fatal("Subscribe rejected while slots were free")
		}
	}
}

func waitForActive(t *testing.T, env *testEnv, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for env.mux.Active() != want {
		if time.Now().After(deadline) {
			t.Fatalf("active subscribers = %d, want %d", env.mux.Active(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func nextEvent(t *testing.T, stream *eventsource.Stream) string {
	t.Helper()
	select {
	case ev := <-stream.Events:
		return ev.Data()
	case err := <-stream.Errors:
		t.Fatalf("stream error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return ""
}

// ─── Server-Sent Events Tests ───────────────────────────────────────

func TestGuestEvents_SnapshotAndUpdates(t *testing.T) {
	env, ts := startStreamServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/guests/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	stream, err := eventsource.SubscribeWithRequest("", req)
	if err != nil {
		t.Fatalf("SubscribeWithRequest: %v", err)
	}

	if data := nextEvent(t, stream); data != "[]" {
		t.Fatalf("initial snapshot = %q, want []", data)
	}
	if env.mux.Active() != 1 {
		t.Errorf("active = %d, want 1", env.mux.Active())
	}

	env.registry.ReportGuest(guestA, 3)

	var guests []struct {
		MAC           string `json:"mac"`
		ButtonPresses uint32 `json:"buttonPresses"`
	}
	if err := json.Unmarshal([]byte(nextEvent(t, stream)), &guests); err != nil {
		t.Fatalf("decoding update: %v", err)
	}
	if len(guests) != 1 || guests[0].MAC != guestA.String() || guests[0].ButtonPresses != 3 {
		t.Errorf("update = %+v", guests)
	}
}

func TestGuestEvents_HeadersAndRelease(t *testing.T) {
	env, ts := startStreamServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/guests/events", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		cancel()
		t.Fatalf("GET: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	wantHeaders := map[string]string{
		"Content-Type":                "text/event-stream",
		"Cache-Control":               "no-cache",
		"Access-Control-Allow-Origin": "*",
	}
	for k, v := range wantHeaders {
		if got := resp.Header.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("reading first line: %v", err)
	}
	if strings.TrimSpace(line) != "data: []" {
		t.Errorf("first line = %q, want data: []", line)
	}

	// Client disconnect frees the slot.
	cancel()
	resp.Body.Close()
	waitForActive(t, env, 0)
}

func TestGuestEvents_Keepalive(t *testing.T) {
	env, ts := startStreamServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/guests/events", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	// Initial snapshot event: data line plus terminator.
	for i := 0; i < 2; i++ {
		if _, err := r.ReadString('\n'); err != nil {
			t.Fatalf("reading snapshot: %v", err)
		}
	}

	if n := env.mux.Keepalive(); n != 1 {
		t.Fatalf("Keepalive delivered to %d, want 1", n)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading keepalive: %v", err)
	}
	if !strings.HasPrefix(line, ":") {
		t.Errorf("keepalive line = %q, want SSE comment", line)
	}
}

func TestGuestEvents_EndsOnEviction(t *testing.T) {
	env, ts := startStreamServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/guests/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	waitForActive(t, env, 1)

	env.mux.Close() //nolint:errcheck // always nil

	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(resp.Body).ReadString(0)
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected end of stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after eviction")
	}
}

func TestGuestEvents_AllSlotsBusy(t *testing.T) {
	env, ts := startStreamServer(t)
	fillSlots(t, env)

	resp, err := ts.Client().Get(ts.URL + "/api/guests/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	var e Error
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decoding error: %v", err)
	}
	if e.Code != ErrCodeUnavailable {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeUnavailable)
	}
}
