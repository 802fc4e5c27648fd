package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bobbiedigital/bobbiedigital-web/internal/httpmw"
	"github.com/bobbiedigital/bobbiedigital-web/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	// Production turns on HSTS, the CORS allow-list and generic 500 bodies.
	Production     bool
	AllowedOrigins []string
	ClientIPOpts   httpmw.ClientIPOptions

	// MaxBodyBytes caps request bodies. Defaults to 10KB.
	MaxBodyBytes int64

	UseRecoverMW bool
	OnPanic      func()

	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler

	// APIRoutes registers JSON routes; SiteHandler serves everything else.
	APIRoutes   func(chi.Router)
	SiteHandler http.Handler

	// ContentInfo adds X-Content-Source and X-Content-Hash headers
	ContentInfo httpmw.ContentInfo

	// ShutdownTimeout bounds graceful shutdown in stop. Defaults to 10s.
	ShutdownTimeout time.Duration
}
