package daemon

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"parcel/internal/logging"
	"parcel/internal/services"
)

const requestIDHeader = "X-Request-ID"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

func accessLogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				if p := recover(); p != nil {
					logging.ErrorWithContext(logging.WithContext(r.Context(), logger), "panic in handler", "http_panic",
						logging.Any("panic", p),
						logging.String("method", r.Method),
						logging.String("path", r.URL.Path),
					)
					if rec.status == 0 {
						writeJSON(rec, http.StatusInternalServerError, errorBody("internal server error", ""))
					}
				}
				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				level := slog.LevelDebug
				if status >= http.StatusInternalServerError {
					level = slog.LevelWarn
				}
				logging.WithContext(r.Context(), logger).Log(r.Context(), level, "http request",
					logging.Args(
						logging.String("method", r.Method),
						logging.String("path", r.URL.Path),
						logging.Int("status", status),
						logging.Int64("bytes", rec.bytes),
						logging.Duration("duration", time.Since(start)),
					)...,
				)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
