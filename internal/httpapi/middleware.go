package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPMetrics records one request. *metrics.Collector satisfies it.
type HTTPMetrics interface {
	RecordHTTPRequest(method, path string, status int, d time.Duration)
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// instrument recovers panics, logs the request at debug level and records
// it under route, which keeps metric labels to the registered patterns.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.String("path", r.URL.Path), zap.String("panic", describe(rec)))
				if !sw.wroteHeader {
					writeJSON(sw, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
				}
			}
			d := time.Since(start)
			if s.metrics != nil {
				s.metrics.RecordHTTPRequest(r.Method, route, sw.status, d)
			}
			s.logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", d))
		}()
		next.ServeHTTP(sw, r)
	})
}
