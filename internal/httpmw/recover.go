package httpmw

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bobbiedigital/bobbiedigital-web/internal/log"
	"github.com/bobbiedigital/bobbiedigital-web/internal/xerrors"
)

// headerTracker remembers whether the response has started.
type headerTracker struct {
	http.ResponseWriter
	wrote bool
}

func (t *headerTracker) WriteHeader(code int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *headerTracker) Write(b []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(b)
}

func (t *headerTracker) Unwrap() http.ResponseWriter { return t.ResponseWriter }

func (t *headerTracker) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Recover turns a handler panic into a 500 JSON response. With exposeErrors
// the panic value is returned to the client (development), otherwise a
// generic message. onPanic, if set, is called once per recovered panic.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recover(L log.Logger, onPanic func(), exposeErrors bool) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &headerTracker{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				if onPanic != nil {
					onPanic()
				}

				var err error
				if e, ok := rec.(error); ok {
					err = xerrors.WithStack(e)
				} else {
					err = xerrors.New(fmt.Sprint(rec))
				}
				ctx := r.Context()
				L.Error(ctx, err, "panic recovered",
					"request_id", RequestIDFromContext(ctx),
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)

				if tw.wrote {
					return
				}
				msg := "Internal server error"
				if exposeErrors {
					msg = fmt.Sprint(rec)
				}
				writeJSONError(tw, http.StatusInternalServerError, msg)
			}()
			next.ServeHTTP(tw, r)
		})
	}
}
