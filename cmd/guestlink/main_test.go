package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/guestlink-core/internal/infrastructure/config"
	"github.com/nerrad567/guestlink-core/internal/infrastructure/logging"
)

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// writeConfig writes a sim-backend config with history in a temp dir.
func writeConfig(t *testing.T, port int, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
site:
  id: test-site

radio:
  backend: sim
  send_timeout_ms: 50

database:
  enabled: true
  path: %q

api:
  host: "127.0.0.1"
  port: %d

logging:
  level: error
  format: text
  output: stdout
%s`, filepath.Join(dir, "guestlink.db"), port, extra)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidRadioAddress verifies a bad radio.address stops startup.
func TestRun_InvalidRadioAddress(t *testing.T) {
	path := writeConfig(t, freePort(t), `
guests:
  capacity: 5
`)
	// Rewrite the radio section with a bad address.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data = bytes.Replace(data, []byte("backend: sim"), []byte("backend: sim\n  address: \"not-a-mac\""), 1)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = run(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "radio.address") {
		t.Fatalf("run() error = %v, want radio.address error", err)
	}
}

// TestRun_SimBackend starts the whole gateway on the sim radio, exercises
// the HTTP API and shuts it down through the context.
func TestRun_SimBackend(t *testing.T) {
	port := freePort(t)
	path := writeConfig(t, port, "")
	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	// Wait for the API to come up.
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/api/health")
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status = %d", resp.StatusCode)
			}
			if !strings.Contains(string(body), `"status":"ok"`) {
				t.Errorf("health body = %s", body)
			}
			break
		}
		select {
		case err := <-done:
			t.Fatalf("run() exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("API did not come up: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// No guest is attached to the medium, so the send fails.
	resp, err := http.Post(base+"/api/score", "application/json",
		strings.NewReader(`{"mac":"AA:BB:CC:00:00:01","score":3}`))
	if err != nil {
		t.Fatalf("POST /api/score: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("score status = %d, want 502", resp.StatusCode)
	}

	resp, err = http.Get(base + "/api/guests/AA:BB:CC:00:00:01/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("history = %d %s, want 200 []", resp.StatusCode, body)
	}

	resp, err = http.Get(base + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "<!DOCTYPE html>") {
		t.Errorf("dashboard not served at /")
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, name := range []string{"guestlink_link_send_failures_total 1", "guestlink_guests 0", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics missing %q", name)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() = %v, want nil on clean shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestOpenRadio(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)

	tests := []struct {
		name    string
		radio   config.RadioConfig
		wantErr bool
	}{
		{"sim default address", config.RadioConfig{Backend: config.BackendSim}, false},
		{"sim explicit address", config.RadioConfig{Backend: config.BackendSim, Address: "02:00:00:00:00:09"}, false},
		{"sim bad address", config.RadioConfig{Backend: config.BackendSim, Address: "nope"}, true},
		{"udp loopback", config.RadioConfig{
			Backend: config.BackendUDP,
			Address: "02:00:00:00:00:0A",
			UDP:     config.UDPRadioConfig{Listen: "127.0.0.1:0", Broadcast: "127.0.0.1:4210"},
		}, false},
		{"udp bad address", config.RadioConfig{Backend: config.BackendUDP, Address: "nope"}, true},
		{"serial missing port", config.RadioConfig{
			Backend: config.BackendSerial,
			Serial:  config.SerialConfig{Port: "/nonexistent/ttyGUEST", Baud: 115200, ReadyTimeout: 1},
		}, true},
		{"unknown backend", config.RadioConfig{Backend: "carrier-pigeon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := openRadio(&config.Config{Radio: tt.radio}, log)
			if (err != nil) != tt.wantErr {
				t.Fatalf("openRadio() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if r == nil {
					t.Fatal("openRadio() returned nil radio")
				}
				r.Close()
			}
		})
	}
}

func TestShutdownStack(t *testing.T) {
	var order []string
	errBoom := errors.New("boom")

	stack := &shutdownStack{log: logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)}
	stack.push("first", func() error { order = append(order, "first"); return nil })
	stack.push("second", func() error { order = append(order, "second"); return errBoom })
	stack.push("third", func() error { order = append(order, "third"); return errBoom })

	err := stack.run()
	if got := strings.Join(order, ","); got != "third,second,first" {
		t.Errorf("close order = %s, want third,second,first", got)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("run() = %v, want errBoom", err)
	}
	if !strings.Contains(err.Error(), "closing second") || !strings.Contains(err.Error(), "closing third") {
		t.Errorf("run() = %v, want both failures", err)
	}

	if err := stack.run(); err != nil {
		t.Errorf("second run() = %v, want nil", err)
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "guestlink "+version) {
		t.Errorf("output = %q", out.String())
	}
}

func TestCheckConfigCmd(t *testing.T) {
	valid := writeConfig(t, 8081, "")

	invalid := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(invalid, []byte("radio:\n  backend: carrier-pigeon\n"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
		wantOut string
	}{
		{"valid", valid, false, "configuration OK"},
		{"invalid backend", invalid, true, ""},
		{"missing file", filepath.Join(t.TempDir(), "missing.yaml"), true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			root := newRootCmd()
			root.SetOut(&out)
			root.SetArgs([]string{"check-config", "--config", tt.path})

			err := root.Execute()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("output = %q, want %q", out.String(), tt.wantOut)
			}
		})
	}
}
