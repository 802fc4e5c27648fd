// Package sitehandler serves the single-page site from the active content
// snapshot.
package sitehandler

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"net/http"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

type Handler struct {
	opts Options
}

func New(opts *Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: *opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap, ok := h.opts.Content.Get()
	if !ok {
		h.serveMaintenance(w, r)
		return
	}

	file, fallback := resolvePath(r.URL.Path, snap.FS, h.opts.IndexFile)
	cc := h.opts.DefaultCacheControl
	if !fallback {
		cc = cacheControlForFile(file, &h.opts)
	}
	w.Header().Set("Cache-Control", cc)

	if err := serveFile(w, r, snap.FS, file); err != nil {
		// validated snapshots always carry an index, so this is a broken bundle
		h.opts.Logger.Error(r.Context(), err, "serve site file", "file", file)
		w.Header().Del("Cache-Control")
		h.serveMaintenance(w, r)
	}
}

func (h *Handler) serveMaintenance(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", "60")

	sw := &statusOverrideWriter{ResponseWriter: w, status: http.StatusServiceUnavailable}
	if err := serveFile(sw, r, h.opts.FallbackFS, h.opts.MaintenanceFile); err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "503 service unavailable")
	}
}

// serveFile writes name from fsys with http.ServeContent, which handles HEAD,
// ranges and conditional requests. Unlike http.ServeFileFS it does not look at
// r.URL.Path, so fallback responses for odd URLs still succeed.
func serveFile(w http.ResponseWriter, r *http.Request, fsys fs.FS, name string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	var body io.ReadSeeker
	if rs, ok := f.(io.ReadSeeker); ok {
		body = rs
	} else {
		data, err := io.ReadAll(f)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), body)
	return nil
}

// ServeContent writes its own status, so statusOverrideWriter replaces the
// first WriteHeader call to force 503.
type statusOverrideWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusOverrideWriter) WriteHeader(code int) {
	if w.wroteHeader {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(w.status)
}

func (w *statusOverrideWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
