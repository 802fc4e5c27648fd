package httpmw

import (
	"net/http"
	"strings"
)

// Security note: CSRF protection is not implemented because it is not applicable.
// The only non-GET traffic is CORS preflight; there are no cookies or sessions.

// SecurityHeadersOptions configures SecurityHeaders.
type SecurityHeadersOptions struct {
	// Production enables Strict-Transport-Security.
	Production bool
	// ConnectOrigins are appended to the CSP connect-src directive.
	ConnectOrigins []string
}

// ContentSecurityPolicy builds the site's CSP. The SPA loads Google Maps and
// Google Fonts and uses inline styles, so those sources are allowed.
func ContentSecurityPolicy(connectOrigins []string) string {
	connect := append([]string{"'self'"}, connectOrigins...)
	connect = append(connect, "https://maps.googleapis.com")
	return strings.Join([]string{
		"default-src 'self'",
		"script-src 'self' 'unsafe-inline' 'unsafe-eval' https://maps.googleapis.com",
		"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com",
		"font-src 'self' https://fonts.gstatic.com data:",
		"img-src 'self' data: https: blob:",
		"connect-src " + strings.Join(connect, " "),
		"frame-src 'self'",
		"object-src 'none'",
		"base-uri 'self'",
		"form-action 'self'",
		"frame-ancestors 'none'",
		"upgrade-insecure-requests",
	}, "; ")
}

// SecurityHeaders returns middleware that sets the fixed security headers on
// every response before calling next, so error and panic responses carry
// them too.
func SecurityHeaders(opts SecurityHeadersOptions) func(http.Handler) http.Handler {
	csp := ContentSecurityPolicy(opts.ConnectOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			// Disable MIME type sniffing
			h.Set("X-Content-Type-Options", "nosniff")

			// Old clickjacking protection, frame-ancestors covers modern browsers
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

			// Prevent Adobe Flash and Acrobat from loading content
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")

			if opts.Production {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			}
			h.Set("Content-Security-Policy", csp)

			next.ServeHTTP(w, r)
		})
	}
}
