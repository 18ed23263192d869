package panel

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web/*
var content embed.FS

// indexFile is served for the root and for any path with no matching asset.
const indexFile = "index.html"

// Handler returns an http.Handler that serves the guest dashboard.
//
// When dir is non-empty and the directory exists, assets are served from the
// filesystem (no rebuild needed while editing the dashboard).
// When dir is empty or missing, assets are served from the embedded FS.
//
// For every asset a precompressed "<name>.gz" sibling is preferred when the
// client accepts gzip. Unknown paths fall back to index.html so client-side
// routing works. Panics if the embedded web assets cannot be loaded (build
// error).
func Handler(dir string) http.Handler {
	fsys := assets(dir)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The dashboard is tiny and changes with the binary; never cache it.
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" || !exists(fsys, name) {
			name = indexFile
		}

		if acceptsGzip(r) && exists(fsys, name+".gz") {
			w.Header().Set("Content-Encoding", "gzip")
			w.Header().Add("Vary", "Accept-Encoding")
			serveFile(w, r, fsys, name+".gz", name)
			return
		}
		serveFile(w, r, fsys, name, name)
	})
}

// assets picks the filesystem or the embedded build.
func assets(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}

	webFS, err := fs.Sub(content, "web")
	if err != nil {
		panic(fmt.Sprintf("panel: failed to load embedded web assets: %v", err))
	}
	return webFS
}

// exists reports whether name is a regular file in fsys.
func exists(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}

// serveFile writes file from fsys. The content type is derived from
// typeName, so a .gz variant is labelled like the asset it encodes.
func serveFile(w http.ResponseWriter, r *http.Request, fsys fs.FS, file, typeName string) {
	f, err := fsys.Open(file)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	ctype := mime.TypeByExtension(path.Ext(typeName))
	if ctype == "" {
		ctype = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", ctype)

	if rs, ok := f.(io.ReadSeeker); ok {
		http.ServeContent(w, r, typeName, info.ModTime(), rs)
		return
	}

	// Embedded and os.DirFS files both seek; this is a fallback for other
	// fs.FS implementations.
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		io.Copy(w, f)
	}
}

// acceptsGzip reports whether the client lists gzip in Accept-Encoding.
func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(enc, "gzip") {
			return true
		}
	}
	return false
}
