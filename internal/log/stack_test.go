package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/bobbiedigital/bobbiedigital-web/internal/log"
	"github.com/bobbiedigital/bobbiedigital-web/internal/xerrors"
)

// stack rendering skips frames from package log, so these run from outside it

func stackOf(t *testing.T, buf *bytes.Buffer) string {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v", err)
	}
	s, _ := m["stack"].(string)
	return s
}

func TestStack_Threshold(t *testing.T) {
	var buf bytes.Buffer
	l, _ := log.New(log.Options{App: "web", JsonFormat: true, StacktraceLevel: slog.LevelWarn, Writer: &buf})

	l.Info(context.Background(), "info")
	if s := stackOf(t, &buf); s != "" {
		t.Fatalf("info below threshold carried a stack:\n%s", s)
	}
	l.Warn(context.Background(), "warn")
	if s := stackOf(t, &buf); !strings.Contains(s, "TestStack_Threshold") {
		t.Fatalf("stack should start at caller:\n%s", s)
	}
}

func TestStack_FromError(t *testing.T) {
	var buf bytes.Buffer
	l, _ := log.New(log.Options{App: "web", JsonFormat: true, Writer: &buf})

	l.Error(context.Background(), makeStackedError(), "failed")
	if s := stackOf(t, &buf); !strings.Contains(s, "makeStackedError") {
		t.Fatalf("stack should come from the error:\n%s", s)
	}
}

func makeStackedError() error { return xerrors.New("deep") }
