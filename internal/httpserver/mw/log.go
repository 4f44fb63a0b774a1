package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bookoftales/tales/internal/logger"
)

// statusWriter captures status code and bytes written.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	// Ensure status is set if handler wrote body without calling WriteHeader.
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Log writes one line per HTTP request. Server errors are logged at error
// level, client errors at warn, the rest at info.
func Log(loggerClient logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w}

			defer func() {
				status := ww.status
				if status == 0 {
					status = http.StatusOK
				}
				route := ""
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					route = rctx.RoutePattern()
				}

				fields := []logger.Field{
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.String("route", route),
					logger.Int("status", status),
					logger.Int("bytes", ww.bytes),
					logger.Duration("duration", time.Since(start)),
					logger.String("remote_ip", r.RemoteAddr),
					logger.String("user_agent", r.UserAgent()),
					logger.String("request_id", middleware.GetReqID(r.Context())),
				}
				switch {
				case status >= 500:
					loggerClient.Error("http_request", fields...)
				case status >= 400:
					loggerClient.Warn("http_request", fields...)
				default:
					loggerClient.Info("http_request", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
