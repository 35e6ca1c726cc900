// Package web serves an optional on-disk static asset directory as a
// single-page application. Per SPEC_FULL §6 this gateway ships no bundled
// frontend of its own (the embedded dist/ the teacher shipped doesn't
// exist in this repo's scope), so the directory is supplied at runtime via
// configuration instead of being embedded at build time.
package web

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// SPAHandler returns an http.Handler that serves files from dir, falling
// back to dir/index.html for any path that doesn't match a file (SPA
// client-side routing), the same fallback shape as the teacher's embedded
// handler. If dir is empty or does not exist, it returns a handler that
// always responds 404, so callers can mount it unconditionally.
func SPAHandler(dir string) http.Handler {
	if dir == "" {
		return http.NotFoundHandler()
	}
	if _, err := os.Stat(dir); err != nil {
		slog.Warn("web: static directory not found, serving 404 for all paths", "dir", dir, "error", err)
		return http.NotFoundHandler()
	}

	fileServer := http.FileServer(http.Dir(dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		full := filepath.Join(dir, filepath.Clean("/"+path))
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
