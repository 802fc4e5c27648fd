package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobbiedigital/bobbiedigital-web/internal/cryptoutil"
	"github.com/bobbiedigital/bobbiedigital-web/internal/log"
)

const (
	// DefaultPollInterval is how often the watcher checks SSM for a new hash.
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive SSM errors.
	maxBackoff = 5 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollSwapped
	pollSSMError
	pollLoadError
	pollValidationError
)

// BundleFetcher is what the Watcher needs from a Loader.
type BundleFetcher interface {
	FetchCurrentBundleHash(ctx context.Context) (string, error)
	LoadHash(ctx context.Context, hash string) (*Snapshot, error)
}

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(kind string)
	ObserveBundleLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

type WatcherOptions struct {
	Logger       log.Logger
	Loader       BundleFetcher
	Manager      *Manager
	PollInterval time.Duration

	// zero value uses DefaultBundleValidation()
	Validation *ValidationOptions

	// OnSwap runs on the poll goroutine after a successful swap. A panic in
	// it is logged and swallowed.
	OnSwap func(snap *Snapshot)

	Metrics WatcherMetrics

	// StaleThreshold is how long SSM may fail before content is reported
	// stale. Defaults to 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls SSM and hot-swaps new bundles into the Manager.
type Watcher struct {
	loader     BundleFetcher
	manager    *Manager
	logger     log.Logger
	interval   time.Duration
	validation ValidationOptions
	onSwap     func(*Snapshot)
	metrics    WatcherMetrics

	currentHash     string
	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	stale          bool

	pollCount int64
	swapCount int64

	now func() time.Time
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 30 * time.Minute
	}
	validation := DefaultBundleValidation()
	if opts.Validation != nil {
		validation = *opts.Validation
	}

	// an S3 snapshot loaded at startup should not be downloaded again
	current := ""
	if snap, ok := opts.Manager.Get(); ok && snap.Meta.Source == SourceS3 {
		current = snap.Meta.SHA256
	}

	return &Watcher{
		loader:         opts.Loader,
		manager:        opts.Manager,
		logger:         opts.Logger,
		interval:       opts.PollInterval,
		validation:     validation,
		onSwap:         opts.OnSwap,
		metrics:        opts.Metrics,
		currentHash:    current,
		staleThreshold: opts.StaleThreshold,
		lastSuccessAt:  time.Now(),
		now:            time.Now,
	}
}

// Run polls until ctx is cancelled. It polls once immediately so a watcher
// started without content picks a bundle up without waiting an interval.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "content watcher starting",
		"poll_interval", w.interval.String(),
		"current_hash", truncHash(w.currentHash),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "content watcher stopping", "polls", w.pollCount, "swaps", w.swapCount)
			return ctx.Err()
		case <-timer.C:
			timer.Reset(w.afterPoll(ctx, w.checkOnce(ctx)))
		}
	}
}

// afterPoll updates backoff and staleness state and returns the delay until
// the next poll.
func (w *Watcher) afterPoll(ctx context.Context, res pollResult) time.Duration {
	if res != pollSSMError {
		if w.consecutiveErrs > 0 {
			w.logger.Info(ctx, "content watcher recovered", "had_consecutive_errors", w.consecutiveErrs)
			w.consecutiveErrs = 0
		}
		if w.stale {
			w.logger.Info(ctx, "content watcher staleness recovered")
			w.setStale(false)
		}
		return w.interval
	}

	w.consecutiveErrs++
	since := w.now().Sub(w.lastSuccessAt)
	if since > w.staleThreshold && !w.stale {
		w.logger.Error(ctx, fmt.Errorf("last successful SSM poll was %s ago", since.Truncate(time.Second)),
			"content is stale, unable to check for new bundles")
		w.setStale(true)
	}
	d := w.backoffDuration()
	w.logger.Warn(ctx, "content watcher backing off",
		"consecutive_errors", w.consecutiveErrs,
		"next_poll_in", d.String(),
	)
	return d
}

func (w *Watcher) setStale(stale bool) {
	w.stale = stale
	if w.metrics != nil {
		w.metrics.SetWatcherStale(stale)
	}
}

func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	hash, err := w.loader.FetchCurrentBundleHash(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "content watcher SSM poll failed")
		w.incError("ssm")
		return pollSSMError
	}
	w.lastSuccessAt = w.now()
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(w.lastSuccessAt.Unix()))
	}

	if cryptoutil.HashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	w.logger.Info(ctx, "new content bundle detected",
		"old_hash", truncHash(w.currentHash),
		"new_hash", truncHash(hash),
	)

	start := time.Now()
	snap, err := w.loader.LoadHash(ctx, hash)
	if w.metrics != nil {
		w.metrics.ObserveBundleLoadDuration(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, cryptoutil.ErrBundleSignature) || errors.Is(err, cryptoutil.ErrSigningKey) {
			w.logger.Error(ctx, err, "content bundle signature rejected, keeping current content",
				"rejected_hash", truncHash(hash),
				"current_hash", truncHash(w.currentHash),
			)
			w.incError("signature")
			return pollLoadError
		}
		w.logger.Error(ctx, err, "content bundle load failed", "hash", truncHash(hash))
		w.incError("load")
		return pollLoadError
	}

	if err := ValidateSnapshot(snap, w.validation); err != nil {
		w.logger.Error(ctx, err, "content bundle failed validation, keeping current content",
			"rejected_hash", truncHash(hash),
			"current_hash", truncHash(w.currentHash),
		)
		w.incError("validation")
		return pollValidationError
	}

	old := w.currentHash
	w.manager.Set(*snap)
	w.currentHash = hash
	w.swapCount++
	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
	}
	w.logger.Info(ctx, "content bundle swapped",
		"old_hash", truncHash(old),
		"new_hash", truncHash(hash),
		"total_swaps", w.swapCount,
	)

	if w.onSwap != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r), "content watcher OnSwap callback panicked")
				}
			}()
			w.onSwap(snap)
		}()
	}
	return pollSwapped
}

func (w *Watcher) incError(kind string) {
	if w.metrics != nil {
		w.metrics.IncWatcherError(kind)
	}
}

// backoffDuration doubles the interval per consecutive error, capped at
// maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	d := w.interval
	for i := 0; i < w.consecutiveErrs && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
