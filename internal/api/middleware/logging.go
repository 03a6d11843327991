package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// logEntry carries identity back out to the access log line. Logger runs
// outside authentication, so the context values set downstream are invisible
// to it; the auth middleware writes into this shared entry instead.
type logEntry struct {
	userID    uuid.UUID
	keyPrefix string
	authed    bool
}

// noteAuthenticatedKey records the caller for the request's access log line.
func noteAuthenticatedKey(ctx context.Context, userID uuid.UUID, keyPrefix string) {
	if e, ok := ctx.Value(logEntryKey).(*logEntry); ok {
		e.userID = userID
		e.keyPrefix = keyPrefix
		e.authed = true
	}
}

func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		entry := &logEntry{}
		r = r.WithContext(context.WithValue(r.Context(), logEntryKey, entry))

		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if entry.authed {
			attrs = append(attrs, "user_id", entry.userID, "key_prefix", entry.keyPrefix)
		}
		slog.Info("request", attrs...)
	})
}
