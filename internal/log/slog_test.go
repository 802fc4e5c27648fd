package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/bobbiedigital/bobbiedigital-web/internal/xerrors"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) Logger {
	t.Helper()
	opts.Writer = buf
	opts.JsonFormat = true
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l
}

// lastRecord parses the last JSON line written to buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

func TestSlog_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "web", Version: "1.2.3", Env: "production"})
	l.Info(context.Background(), "hello", "port", 3000)

	rec := lastRecord(t, &buf)
	if rec["msg"] != "hello" {
		t.Fatalf("msg = %v", rec["msg"])
	}
	for k, want := range map[string]any{"app": "web", "version": "1.2.3", "env": "production", "port": float64(3000)} {
		if rec[k] != want {
			t.Fatalf("%s = %v, want %v", k, rec[k], want)
		}
	}
}

func TestSlog_SourcePointsAtCaller(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "web"})
	l.Info(context.Background(), "where")

	src, ok := lastRecord(t, &buf)["source"].(map[string]any)
	if !ok {
		t.Fatal("missing source attr")
	}
	if fn, _ := src["function"].(string); !strings.HasSuffix(fn, "TestSlog_SourcePointsAtCaller") {
		t.Fatalf("source function = %q", fn)
	}
}

func TestSlog_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "web", Level: slog.LevelWarn})
	ctx := context.Background()
	l.Debug(ctx, "d")
	l.Info(ctx, "i")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %s", buf.String())
	}
	l.Warn(ctx, "w")
	if lastRecord(t, &buf)["msg"] != "w" {
		t.Fatal("warn should pass")
	}
}

func TestSlog_WithDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := newTestLogger(t, &buf, Options{App: "web"})
	child := parent.With("component", "ratelimit", 42, "dropped", "dangling")

	child.Info(context.Background(), "child")
	rec := lastRecord(t, &buf)
	if rec["component"] != "ratelimit" {
		t.Fatalf("component = %v", rec["component"])
	}
	if _, ok := rec["dangling"]; ok {
		t.Fatal("dangling key should be dropped")
	}

	buf.Reset()
	parent.Info(context.Background(), "parent")
	if _, ok := lastRecord(t, &buf)["component"]; ok {
		t.Fatal("parent picked up child attrs")
	}
}

func TestSlog_TraceIDs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "web"})

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")
	rec := lastRecord(t, &buf)
	if rec["trace_id"] != tid.String() || rec["span_id"] != sid.String() {
		t.Fatalf("trace ids = %v/%v", rec["trace_id"], rec["span_id"])
	}

	buf.Reset()
	l.Info(context.Background(), "untraced")
	if _, ok := lastRecord(t, &buf)["trace_id"]; ok {
		t.Fatal("trace_id without span")
	}
}

func TestSlog_ErrorEnrichment(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "web", IncludeErrorLinks: true})

	root := errors.New("connection refused")
	err := xerrors.Wrap(fmt.Errorf("redis incr: %w", root), "rate limit store")
	l.Error(context.Background(), err, "store failed", "key", "1.2.3.4")

	rec := lastRecord(t, &buf)
	if rec["key"] != "1.2.3.4" {
		t.Fatalf("key = %v", rec["key"])
	}
	if rec["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", rec["cause_type"])
	}
	if rec["error_type"] != "*errors.errorString" {
		t.Fatalf("error_type = %v (wrappers should be skipped)", rec["error_type"])
	}
	chain, _ := rec["error_chain"].([]any)
	if len(chain) != 3 {
		t.Fatalf("error_chain = %v", chain)
	}
	links, _ := rec["error_links"].([]any)
	if len(links) == 0 {
		t.Fatal("expected error_links")
	}
	first := links[0].(map[string]any)
	if fn, _ := first["func"].(string); !strings.HasSuffix(fn, "TestSlog_ErrorEnrichment") {
		t.Fatalf("first link func = %v", first["func"])
	}
	if _, ok := rec["stack"]; !ok {
		t.Fatal("error records should carry a stack")
	}
}

func TestSlog_ErrorLinksDisabledByDefault(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "web"})
	l.Error(context.Background(), errors.New("boom"), "failed")
	if _, ok := lastRecord(t, &buf)["error_links"]; ok {
		t.Fatal("error_links should be off by default")
	}
}

func TestErrorChain_Join(t *testing.T) {
	err := errors.Join(errors.New("a"), errors.New("b"))
	got := errorChain(err)
	if len(got) != 3 || got[1] != "a" || got[2] != "b" {
		t.Fatalf("errorChain(join) = %q", got)
	}
}
