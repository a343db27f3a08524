package middleware

import (
	"net/http"
	"time"

	"github.com/campuschat/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path, статус и время выполнения (асинхронно, не блокирует).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw, ok := w.(*statusWriter)
		if !ok {
			sw = &statusWriter{ResponseWriter: w, status: http.StatusOK}
		}
		next.ServeHTTP(sw, r)
		logger.Debugf("http %s %s status=%d duration_ms=%d", r.Method, r.URL.Path, sw.status, time.Since(start).Milliseconds())
		logger.LogDuration("http "+r.Method+" "+r.URL.Path, start)
	})
}
