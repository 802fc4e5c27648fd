package content

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/bobbiedigital/bobbiedigital-web/internal/cryptoutil"
	"github.com/bobbiedigital/bobbiedigital-web/internal/xerrors"
)

type fakeFetcher struct {
	mu      sync.Mutex
	hash    string
	hashErr error
	snap    *Snapshot
	loadErr error
	loads   []string
}

func (f *fakeFetcher) FetchCurrentBundleHash(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hash, f.hashErr
}

func (f *fakeFetcher) LoadHash(_ context.Context, hash string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, hash)
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	cp := *f.snap
	cp.Meta.SHA256 = hash
	return &cp, nil
}

type fakeWatcherMetrics struct {
	polls, swaps int
	errs         map[string]int
	loads        int
	lastSuccess  float64
	stale        bool
}

func (m *fakeWatcherMetrics) IncWatcherPolls() { m.polls++ }
func (m *fakeWatcherMetrics) IncWatcherSwaps() { m.swaps++ }
func (m *fakeWatcherMetrics) IncWatcherError(kind string) { m.errs[kind]++ }
func (m *fakeWatcherMetrics) ObserveBundleLoadDuration(float64) { m.loads++ }
func (m *fakeWatcherMetrics) SetWatcherLastSuccess(v float64) { m.lastSuccess = v }
func (m *fakeWatcherMetrics) SetWatcherStale(stale bool) { m.stale = stale }

func newTestWatcher(f *fakeFetcher, mgr *Manager, m *fakeWatcherMetrics) *Watcher {
	opts := WatcherOptions{
		Loader:       f,
		Manager:      mgr,
		PollInterval: 10 * time.Second,
	}
	// a nil *fakeWatcherMetrics in the interface would not compare equal to nil
	if m != nil {
		opts.Metrics = m
	}
	return NewWatcher(opts)
}

func TestWatcher_SwapsNewBundle(t *testing.T) {
	hash := strings.Repeat("a", 64)
	f := &fakeFetcher{hash: hash, snap: &Snapshot{FS: siteFS(), Meta: Meta{Source: SourceS3}}}
	mgr := NewManager()
	m := &fakeWatcherMetrics{errs: map[string]int{}}

	var swapped *Snapshot
	w := newTestWatcher(f, mgr, m)
	w.onSwap = func(s *Snapshot) { swapped = s }

	if res := w.checkOnce(context.Background()); res != pollSwapped {
		t.Fatalf("result = %v, want swapped", res)
	}
	if mgr.ContentHash() != hash {
		t.Fatalf("active hash = %q", mgr.ContentHash())
	}
	if swapped == nil || swapped.Meta.SHA256 != hash {
		t.Fatal("OnSwap not called with new snapshot")
	}
	if m.polls != 1 || m.swaps != 1 || m.loads != 1 || m.lastSuccess == 0 {
		t.Fatalf("metrics = %+v", m)
	}

	// same hash again is a no-op
	if res := w.checkOnce(context.Background()); res != pollNoChange {
		t.Fatalf("second poll = %v, want no change", res)
	}
	if len(f.loads) != 1 {
		t.Fatalf("loads = %v", f.loads)
	}
}

func TestWatcher_SkipsHashLoadedAtStartup(t *testing.T) {
	hash := strings.Repeat("b", 64)
	mgr := NewManager()
	mgr.Set(Snapshot{FS: siteFS(), Meta: Meta{Source: SourceS3, SHA256: hash}})

	f := &fakeFetcher{hash: hash}
	w := newTestWatcher(f, mgr, nil)
	if res := w.checkOnce(context.Background()); res != pollNoChange {
		t.Fatalf("result = %v", res)
	}
	if len(f.loads) != 0 {
		t.Fatal("startup bundle should not be downloaded again")
	}
}

func TestWatcher_NoMetrics(t *testing.T) {
	hash := strings.Repeat("e", 64)
	f := &fakeFetcher{hash: hash, snap: &Snapshot{FS: siteFS(), Meta: Meta{Source: SourceS3}}}
	mgr := NewManager()
	w := newTestWatcher(f, mgr, nil)

	if res := w.checkOnce(context.Background()); res != pollSwapped {
		t.Fatalf("result = %v, want swapped", res)
	}
	if mgr.ContentHash() != hash {
		t.Fatalf("active hash = %q", mgr.ContentHash())
	}
}

func TestWatcher_RejectsInvalidBundle(t *testing.T) {
	mgr := NewManager()
	mgr.Set(Snapshot{FS: siteFS(), Meta: Meta{Source: SourceDisk}})

	thin := &Snapshot{FS: fstest.MapFS{"index.html": {Data: []byte("x")}}, Meta: Meta{Source: SourceS3}}
	f := &fakeFetcher{hash: strings.Repeat("c", 64), snap: thin}
	m := &fakeWatcherMetrics{errs: map[string]int{}}
	w := newTestWatcher(f, mgr, m)

	if res := w.checkOnce(context.Background()); res != pollValidationError {
		t.Fatalf("result = %v", res)
	}
	if mgr.Source() != SourceDisk {
		t.Fatal("invalid bundle replaced live content")
	}
	if m.errs["validation"] != 1 {
		t.Fatalf("errors = %v", m.errs)
	}
}

func TestWatcher_LoadError(t *testing.T) {
	f := &fakeFetcher{hash: strings.Repeat("d", 64), loadErr: errors.New("s3 down")}
	m := &fakeWatcherMetrics{errs: map[string]int{}}
	w := newTestWatcher(f, NewManager(), m)

	if res := w.checkOnce(context.Background()); res != pollLoadError {
		t.Fatalf("result = %v", res)
	}
	if m.errs["load"] != 1 {
		t.Fatalf("errors = %v", m.errs)
	}
	// a load error is not an SSM error, so no backoff
	if d := w.afterPoll(context.Background(), pollLoadError); d != w.interval {
		t.Fatalf("delay = %s", d)
	}
}

func TestWatcher_SignatureRejected(t *testing.T) {
	cases := map[string]error{
		"bad signature": xerrors.Wrap(xerrors.Newf("%w: ECDSA P-256 mismatch", cryptoutil.ErrBundleSignature), "verify bundle signature"),
		"unusable key":  xerrors.Wrap(xerrors.Newf("%w: KeyUsage=ENCRYPT_DECRYPT", cryptoutil.ErrSigningKey), "verify bundle signature"),
	}
	for name, loadErr := range cases {
		t.Run(name, func(t *testing.T) {
			f := &fakeFetcher{hash: strings.Repeat("e", 64), loadErr: loadErr}
			m := &fakeWatcherMetrics{errs: map[string]int{}}
			mgr := NewManager()
			w := newTestWatcher(f, mgr, m)

			if res := w.checkOnce(context.Background()); res != pollLoadError {
				t.Fatalf("result = %v", res)
			}
			if m.errs["signature"] != 1 || m.errs["load"] != 0 {
				t.Fatalf("errors = %v", m.errs)
			}
			if _, ok := mgr.Get(); ok {
				t.Fatal("rejected bundle must not be installed")
			}
		})
	}
}

func TestWatcher_BackoffAndStaleness(t *testing.T) {
	f := &fakeFetcher{hashErr: errors.New("throttled")}
	m := &fakeWatcherMetrics{errs: map[string]int{}}
	w := newTestWatcher(f, NewManager(), m)
	w.staleThreshold = time.Minute

	start := time.Now()
	w.lastSuccessAt = start
	w.now = func() time.Time { return start }

	ctx := context.Background()
	want := []time.Duration{20 * time.Second, 40 * time.Second, 80 * time.Second}
	for i, wd := range want {
		res := w.checkOnce(ctx)
		if res != pollSSMError {
			t.Fatalf("poll %d: result = %v", i, res)
		}
		if d := w.afterPoll(ctx, res); d != wd {
			t.Fatalf("poll %d: delay = %s, want %s", i, d, wd)
		}
	}
	if m.stale {
		t.Fatal("should not be stale before threshold")
	}

	w.now = func() time.Time { return start.Add(2 * time.Minute) }
	w.afterPoll(ctx, w.checkOnce(ctx))
	if !m.stale || !w.stale {
		t.Fatal("expected stale after threshold")
	}

	for i := 0; i < 10; i++ {
		w.consecutiveErrs++
	}
	if d := w.backoffDuration(); d != maxBackoff {
		t.Fatalf("backoff = %s, want cap %s", d, maxBackoff)
	}

	f.hashErr = nil
	f.hash = strings.Repeat("e", 64)
	f.snap = &Snapshot{FS: siteFS(), Meta: Meta{Source: SourceS3}}
	if d := w.afterPoll(ctx, w.checkOnce(ctx)); d != w.interval {
		t.Fatalf("recovered delay = %s", d)
	}
	if w.consecutiveErrs != 0 || m.stale {
		t.Fatal("recovery should reset backoff and staleness")
	}
	if m.errs["ssm"] != 4 {
		t.Fatalf("ssm errors = %d", m.errs["ssm"])
	}
}

func TestWatcher_OnSwapPanicRecovered(t *testing.T) {
	f := &fakeFetcher{hash: strings.Repeat("f", 64), snap: &Snapshot{FS: siteFS()}}
	mgr := NewManager()
	w := newTestWatcher(f, mgr, nil)
	w.onSwap = func(*Snapshot) { panic("boom") }

	if res := w.checkOnce(context.Background()); res != pollSwapped {
		t.Fatalf("result = %v", res)
	}
	if mgr.ContentHash() != f.hash {
		t.Fatal("swap should stand even when OnSwap panics")
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	f := &fakeFetcher{hash: strings.Repeat("1", 64), snap: &Snapshot{FS: siteFS()}}
	mgr := NewManager()
	w := newTestWatcher(f, mgr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for mgr.ContentHash() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mgr.ContentHash() == "" {
		t.Fatal("first poll did not run immediately")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestTruncHash(t *testing.T) {
	if truncHash("short") != "short" || truncHash(strings.Repeat("a", 64)) != strings.Repeat("a", 12) {
		t.Fatal("truncHash")
	}
}
