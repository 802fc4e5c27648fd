package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ContentInfo reports the site content currently being served.
type ContentInfo interface {
	ContentSource() string
	ContentHash() string
}

// ContentHeaders adds X-Content-Source and a short X-Content-Hash so cached
// responses can be tied to a deployed bundle.
func ContentHeaders(info ContentInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			src, hash := info.ContentSource(), info.ContentHash()
			if src != "" {
				w.Header().Set("X-Content-Source", src)
			}
			if hash != "" {
				short := hash
				if len(short) > 12 {
					short = short[:12]
				}
				w.Header().Set("X-Content-Hash", short)
			}
			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				span.SetAttributes(
					attribute.String("content.source", src),
					attribute.String("content.hash", hash),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}
