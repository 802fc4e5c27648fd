package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobbiedigital/bobbiedigital-web/internal/httpmw"
	"github.com/bobbiedigital/bobbiedigital-web/internal/log"
	"github.com/bobbiedigital/bobbiedigital-web/internal/xerrors"
)

const (
	DefaultWindow = 15 * time.Minute
	DefaultMax    = 100

	// UnknownClient is the shared key for requests with no resolvable address.
	UnknownClient = "unknown"

	// each request has this chance to trigger Store.Sweep
	sweepChance = 0.01

	resetLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Limiter enforces Max requests per Window for each client key.
type Limiter struct {
	store  Store
	window time.Duration
	max    int

	skip func(*http.Request) bool

	// OnDenied is called on every denied request, used for prometheus counters
	OnDenied func(key string)
	// OnFirstDenied is called once per key per window, on the first denial
	OnFirstDenied func(key string, rec Record)
	// OnStoreError is called when the store fails and the request is let through
	OnStoreError func(err error)
	// OnSweep reports how many expired records a sweep removed
	OnSweep func(n int)

	logger   log.Logger
	errLog   *rate.Sometimes
	now      func() time.Time
	randFrac func() float64
}

type Option func(*Limiter)

// WithWindow sets the window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithMax sets how many requests a client may make per window.
func WithMax(n int) Option {
	return func(l *Limiter) { l.max = n }
}

// WithSkip exempts requests for which fn returns true. Skipped requests are
// neither counted nor given rate-limit headers.
func WithSkip(fn func(*http.Request) bool) Option {
	return func(l *Limiter) { l.skip = fn }
}

// WithOnDenied sets a callback for every denied request.
func WithOnDenied(fn func(key string)) Option {
	return func(l *Limiter) { l.OnDenied = fn }
}

// WithOnFirstDenied sets a callback for the first denial of a key in a
// window. Kept separate from OnDenied so callers can log once but count
// every denial.
func WithOnFirstDenied(fn func(key string, rec Record)) Option {
	return func(l *Limiter) { l.OnFirstDenied = fn }
}

// WithOnStoreError sets a callback for store failures.
func WithOnStoreError(fn func(err error)) Option {
	return func(l *Limiter) { l.OnStoreError = fn }
}

// WithOnSweep sets a callback receiving the number of records swept.
func WithOnSweep(fn func(n int)) Option {
	return func(l *Limiter) { l.OnSweep = fn }
}

// WithLogger sets the logger used for store failures. Those warnings are
// throttled so a Redis outage does not flood the logs.
func WithLogger(L log.Logger) Option {
	return func(l *Limiter) { l.logger = L }
}

// New returns a Limiter over store. A nil store gets a MemoryStore.
func New(store Store, opts ...Option) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Limiter{
		store:    store,
		window:   DefaultWindow,
		max:      DefaultMax,
		logger:   log.Nop(),
		errLog:   &rate.Sometimes{First: 1, Interval: 30 * time.Second},
		now:      time.Now,
		randFrac: rand.Float64,
	}
	for _, o := range opts {
		o(l)
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	if l.max <= 0 {
		l.max = DefaultMax
	}
	if l.logger == nil {
		l.logger = log.Nop()
	}
	return l
}

// Decision is the outcome of counting one request.
type Decision struct {
	Allowed bool
	Count   int64
	Limit   int
	// Remaining is never negative
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// FirstDenial is set on the request that first crossed the limit
	FirstDenial bool
}

// Allow counts one request for key. Errors come from the store and the
// caller decides whether to fail open.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		key = UnknownClient
	}
	now := l.now()
	rec, err := l.store.Increment(ctx, key, now, l.window)
	if err != nil {
		return Decision{}, err
	}

	if l.randFrac() < sweepChance {
		l.sweep(ctx, now)
	}

	d := Decision{
		Count:     rec.Count,
		Limit:     l.max,
		Remaining: max(0, l.max-int(rec.Count)),
		ResetAt:   rec.ResetAt,
	}
	if rec.Count <= int64(l.max) {
		d.Allowed = true
		return d, nil
	}
	d.FirstDenial = rec.Count == int64(l.max)+1
	d.RetryAfter = rec.ResetAt.Sub(now)
	return d, nil
}

func (l *Limiter) sweep(ctx context.Context, now time.Time) {
	n, err := l.store.Sweep(ctx, now)
	if err != nil {
		l.storeError(ctx, err)
		return
	}
	if l.OnSweep != nil {
		l.OnSweep(n)
	}
	if n > 0 {
		kv := []any{"removed", n}
		if c, ok := l.store.(interface{ Len() int }); ok {
			kv = append(kv, "tracked", c.Len())
		}
		l.logger.Debug(ctx, "rate limit sweep", kv...)
	}
}

func (l *Limiter) storeError(ctx context.Context, err error) {
	if l.OnStoreError != nil {
		l.OnStoreError(err)
	}
	l.errLog.Do(func() {
		// store errors come from redis and carry no stack of their own
		l.logger.Error(ctx, xerrors.EnsureTrace(err), "rate limit store failed, allowing requests")
	})
}

// retryAfterSeconds rounds up and never returns less than 1.
func retryAfterSeconds(d time.Duration) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

type deniedBody struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"`
}

// Middleware counts the request against the client address resolved by
// httpmw.ClientIP and answers 429 once the client is over the limit.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.skip != nil && l.skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := httpmw.ClientIPFromContext(ctx)
		if key == "" {
			key = UnknownClient
		}

		d, err := l.Allow(ctx, key)
		if err != nil {
			l.storeError(ctx, err)
			next.ServeHTTP(w, r)
			return
		}

		if !d.Allowed {
			if d.FirstDenial && l.OnFirstDenied != nil {
				l.OnFirstDenied(key, Record{Count: d.Count, ResetAt: d.ResetAt})
			}
			if l.OnDenied != nil {
				l.OnDenied(key)
			}
			secs := retryAfterSeconds(d.RetryAfter)
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(deniedBody{Error: "Too many requests", RetryAfter: secs})
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", d.ResetAt.UTC().Format(resetLayout))
		next.ServeHTTP(w, r)
	})
}

// SkipPaths returns a skip predicate matching exact paths and path
// prefixes ending in "/".
func SkipPaths(paths ...string) func(*http.Request) bool {
	exact := make(map[string]struct{})
	var prefixes []string
	for _, p := range paths {
		if len(p) > 1 && strings.HasSuffix(p, "/") {
			prefixes = append(prefixes, p)
			continue
		}
		exact[p] = struct{}{}
	}
	return func(r *http.Request) bool {
		if _, ok := exact[r.URL.Path]; ok {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(r.URL.Path, p) {
				return true
			}
		}
		return false
	}
}
