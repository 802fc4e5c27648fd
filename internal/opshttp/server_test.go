package opshttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bobbiedigital/bobbiedigital-web/internal/health"
	"github.com/bobbiedigital/bobbiedigital-web/internal/log"
)

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_Probes(t *testing.T) {
	var gate health.ShutdownGate
	h := NewHandler(log.Nop(), &Options{
		Health:    health.Fixed(true, ""),
		Readiness: health.All(gate.Probe(), health.Fixed(true, "")),
	})

	if rec := serve(h, "/-/healthy"); rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("healthy: %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(h, "/-/ready"); rec.Code != http.StatusOK || rec.Body.String() != "ready\n" {
		t.Fatalf("ready: %d %q", rec.Code, rec.Body.String())
	}

	gate.Set("shutting down")
	rec := serve(h, "/-/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready while draining: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "shutting down") {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec := serve(h, "/-/healthy"); rec.Code != http.StatusOK {
		t.Fatalf("liveness must not follow the gate: %d", rec.Code)
	}
}

func TestHandler_NilProbesPass(t *testing.T) {
	h := NewHandler(log.Nop(), &Options{})
	for _, p := range []string{"/-/healthy", "/-/ready"} {
		if rec := serve(h, p); rec.Code != http.StatusOK {
			t.Errorf("%s: %d", p, rec.Code)
		}
	}
}

func TestHandler_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	h := NewHandler(log.Nop(), &Options{Metrics: metrics})
	if rec := serve(h, "/metrics"); rec.Code != http.StatusOK || rec.Body.String() != "# metrics\n" {
		t.Fatalf("metrics: %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(NewHandler(log.Nop(), &Options{}), "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics without handler: %d", rec.Code)
	}
}

func TestHandler_Pprof(t *testing.T) {
	if rec := serve(NewHandler(log.Nop(), &Options{}), "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: %d", rec.Code)
	}
	rec := serve(NewHandler(log.Nop(), &Options{EnablePprof: true}), "/debug/pprof/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "goroutine") {
		t.Fatalf("pprof enabled: %d", rec.Code)
	}
}

func TestHandler_RecoverMW(t *testing.T) {
	panics := 0
	h := NewHandler(log.Nop(), &Options{
		UseRecoverMW: true,
		OnPanic:      func() { panics++ },
		Health:       health.CheckFunc(func(context.Context) error { panic("probe exploded") }),
	})
	rec := serve(h, "/-/healthy")
	if rec.Code != http.StatusInternalServerError || panics != 1 {
		t.Fatalf("status %d, panics %d", rec.Code, panics)
	}
}

func TestStart_ServeAndStop(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), &Options{Port: port, Health: health.Fixed(true, "")})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("GET: %d %q", resp.StatusCode, body)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := stop(sctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(sctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, err := http.Get(url); err == nil {
		t.Fatal("server still accepting connections after shutdown")
	}
}

func TestStart_PortConflict(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), &Options{Port: port})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer stop(ctx)

	if _, err := Start(ctx, log.Nop(), &Options{Port: port}); err == nil {
		t.Fatal("expected error for port conflict")
	}
}
