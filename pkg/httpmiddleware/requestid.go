package httpmiddleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLen bounds caller-supplied ids; longer ones are replaced.
const maxRequestIDLen = 128

type requestIDKey struct{}

// RequestIDFromContext returns the id stored by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID tags every request with an id. A caller-supplied X-Request-ID
// (or X-Correlation-ID, as sent by the till apps) is reused when it is short
// printable ASCII; otherwise a UUID is generated. The id is echoed in the
// response and becomes the correlation id of order events.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := incomingRequestID(r)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

func incomingRequestID(r *http.Request) string {
	for _, h := range [...]string{HeaderRequestID, "X-Correlation-ID"} {
		if id := r.Header.Get(h); isValidRequestID(id) {
			return id
		}
	}
	return ""
}

func isValidRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	return strings.IndexFunc(id, func(c rune) bool { return c < 0x20 || c > 0x7E }) < 0
}
