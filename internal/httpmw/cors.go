package httpmw

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// CORSOptions configures CORS.
type CORSOptions struct {
	// Production restricts Access-Control-Allow-Origin to AllowedOrigins.
	// Outside production only loopback origins are echoed.
	Production     bool
	AllowedOrigins []string
	// defaults to 10 minutes
	MaxAge time.Duration
}

// CORS returns middleware that echoes an acceptable Origin and answers every
// OPTIONS request with 204 and no body.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 10 * time.Minute
	}
	maxAge := strconv.Itoa(int(opts.MaxAge / time.Second))

	originOK := func(origin string) bool {
		if origin == "" {
			return false
		}
		if opts.Production {
			_, ok := allowed[origin]
			return ok
		}
		return isLoopbackOrigin(origin)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); originOK(origin) {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Max-Age", maxAge)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isLoopbackOrigin reports whether origin is an http(s) URL whose host is
// localhost or a loopback IP.
func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
