// Package health provides composable probes for the liveness and readiness
// endpoints on the admin port.
//
// Probes combine with [All] (AND), [Any] (OR) and [Fixed] (static).
// [CheckFunc] adapts a plain function and [WithTimeout] bounds a slow one,
// such as a Redis ping.
//
// [ShutdownGate] fails readiness as soon as shutdown starts, so load balancers
// stop routing before in-flight requests are drained.
package health
