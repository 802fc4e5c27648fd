// Package ratelimit is fixed-window, per-client request limiting.
//
// Each client key gets a counter and a reset time. The first request in a
// window opens it; requests past the maximum are answered with 429 until the
// window resets. Counters live behind a Store so a single instance can keep
// them in memory while a fleet shares them through Redis.
//
// What this does protect against:
//   - a single address flooding the app
//   - noisy clients, with one log line per offender per window and a counter
//     for every denial
//
// What this does NOT protect against:
//   - distributed attacks across many addresses
//   - bandwidth-bill attacks, the request is already accepted when this runs
//
// Store failures fail open. Losing the limiter must not take the site down.
package ratelimit
