package httpserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bobbiedigital/bobbiedigital-web/internal/log"
)

func TestShouldTrace(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/api/contact", true},
		{"/pricing", true},
		{"/health", false},
		{"/-/ready", false},
		{"/favicon.ico", false},
		{"/assets/index-1.JS", false},
		{"/fonts/a.woff2", false},
	}
	for _, tt := range tests {
		if got := shouldTrace(tt.path); got != tt.want {
			t.Errorf("shouldTrace(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestNewHandler_OptionalMiddlewareUnset(t *testing.T) {
	site := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "site")
	})
	h := NewHandler(&Options{SiteHandler: site})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/about", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "site" {
		t.Fatalf("GET /about: %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
	for _, hdr := range []string{"X-RateLimit-Limit", "X-Content-Source"} {
		if v := rec.Header().Get(hdr); v != "" {
			t.Errorf("%s = %q with its middleware unset", hdr, v)
		}
	}
}

func TestNewServer_Timeouts(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler())
	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout || srv.IdleTimeout != DefaultIdleTimeout {
		t.Fatalf("timeouts = %+v", srv)
	}
	if srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Fatalf("MaxHeaderBytes = %d", srv.MaxHeaderBytes)
	}
}

func TestStart_ServesAndStops(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	site := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "site")
	})
	ctx := context.Background()
	stop, err := Start(ctx, &Options{Logger: log.Nop(), Port: port, SiteHandler: site, ShutdownTimeout: time.Second})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/anything", port)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "site" {
		t.Fatalf("body = %q", body)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
