// Package httpmw provides HTTP middleware for the public-facing server.
//
// httpserver.NewHandler composes them, outermost first: security headers,
// recover, request ID, client IP, CORS, rate limiting, OTel tracing,
// content headers, metrics, request logger, then the chi router.
//
// User-supplied data (query strings, user agent, arbitrary headers) is kept
// out of logs to avoid PII leaks and log injection.
package httpmw
