package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/logger"
)

// requestLogger logs one line per request with the chi request id
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.String("remote", r.RemoteAddr),
					zap.String("http_request_id", middleware.GetReqID(r.Context())),
					zap.Duration("duration", time.Since(start)),
				}
				if outcome := ww.Header().Get(HeaderOutcome); outcome != "" {
					fields = append(fields,
						zap.String("outcome", outcome),
						zap.String(logger.FieldRequestID, ww.Header().Get(HeaderRequestID)))
				}
				log.Info("http request", fields...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
