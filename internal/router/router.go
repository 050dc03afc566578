package router

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/server"
)

// New wires the status endpoints with request logging
func New(status *server.StatusServer, metrics http.Handler, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", status.HandleHealth)
	mux.HandleFunc("/status", status.HandleStatus)
	mux.Handle("/metrics", metrics)

	logged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		)
		mux.ServeHTTP(w, r)
	})
	return otelhttp.NewHandler(logged, "aw-sync-status")
}
