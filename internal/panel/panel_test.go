package panel

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func get(t *testing.T, h http.Handler, target string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandlerEmbedded(t *testing.T) {
	handler := Handler("")

	tests := []struct {
		path     string
		wantType string
		contains string
	}{
		{"/", "text/html", "<!DOCTYPE html>"},
		{"/index.html", "text/html", "<!DOCTYPE html>"},
		{"/app.js", "javascript", "/api/guests/events"},
		{"/style.css", "text/css", "font-family"},
		{"/some/deep/route", "text/html", "<!DOCTYPE html>"},
		{"/nonexistent", "text/html", "<!DOCTYPE html>"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, handler, tt.path)
			if w.Code != http.StatusOK {
				t.Fatalf("GET %s: got status %d, want 200", tt.path, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, tt.wantType) {
				t.Errorf("GET %s: Content-Type = %q, want %q", tt.path, ct, tt.wantType)
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("GET %s: body does not contain %q", tt.path, tt.contains)
			}
			if cc := w.Header().Get("Cache-Control"); cc != "no-cache, must-revalidate" {
				t.Errorf("GET %s: Cache-Control = %q", tt.path, cc)
			}
		})
	}
}

func TestHandlerFilesystemMode(t *testing.T) {
	dir := t.TempDir()
	indexContent := `<!DOCTYPE html><html><body>filesystem panel</body></html>`
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(indexContent), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "test.js"), []byte("console.log('test')"), 0644); err != nil {
		t.Fatal(err)
	}

	handler := Handler(dir)

	if w := get(t, handler, "/"); !strings.Contains(w.Body.String(), "filesystem panel") {
		t.Errorf("filesystem GET /: expected filesystem content, got %q", w.Body.String())
	}
	if w := get(t, handler, "/test.js"); w.Code != http.StatusOK || w.Body.String() != "console.log('test')" {
		t.Errorf("filesystem GET /test.js: %d %q", w.Code, w.Body.String())
	}
	if w := get(t, handler, "/deep/route"); !strings.Contains(w.Body.String(), "filesystem panel") {
		t.Error("filesystem SPA fallback didn't serve filesystem index.html")
	}
}

func TestHandlerMissingIndex(t *testing.T) {
	handler := Handler(t.TempDir())
	if w := get(t, handler, "/anything"); w.Code != http.StatusNotFound {
		t.Errorf("empty dir: got status %d, want 404", w.Code)
	}
}

func TestHandlerPrecompressed(t *testing.T) {
	dir := t.TempDir()
	plain := "console.log('plain')"
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<!DOCTYPE html>"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte(plain), 0644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("console.log('gzipped')")) //nolint:errcheck // bytes.Buffer
	zw.Close()
	if err := os.WriteFile(filepath.Join(dir, "app.js.gz"), buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	handler := Handler(dir)

	// Client accepts gzip: the .gz variant, labelled as JavaScript.
	w := get(t, handler, "/app.js", "Accept-Encoding", "br;q=1.0, gzip;q=0.8")
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", w.Header().Get("Content-Encoding"))
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "javascript") {
		t.Errorf("Content-Type = %q, want javascript", ct)
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	got, _ := io.ReadAll(zr)
	if string(got) != "console.log('gzipped')" {
		t.Errorf("decompressed body = %q", got)
	}

	// Client without gzip: the plain asset.
	w = get(t, handler, "/app.js")
	if w.Header().Get("Content-Encoding") != "" || w.Body.String() != plain {
		t.Errorf("plain GET: encoding %q body %q", w.Header().Get("Content-Encoding"), w.Body.String())
	}
}

func TestHandlerInvalidDirFallsBackToEmbed(t *testing.T) {
	handler := Handler("/nonexistent/dir/that/does/not/exist")

	w := get(t, handler, "/")
	if w.Code != http.StatusOK {
		t.Errorf("invalid dir GET /: got status %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
		t.Error("invalid dir: didn't fall back to embedded index.html")
	}
}

func TestAcceptsGzip(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{"gzip", true},
		{"deflate, gzip;q=0.5", true},
		{"GZIP", true},
		{"br, deflate", false},
		{"x-gzip", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", tt.header)
		if got := acceptsGzip(req); got != tt.want {
			t.Errorf("acceptsGzip(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
