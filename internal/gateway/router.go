package gateway

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the gateway's http.Handler with its middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleForm(ctx, w, r)
	})
	mux.HandleFunc("POST /{$}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleUpload(ctx, w, r)
	})
	mux.HandleFunc("GET /contents", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleContents(ctx, w, r)
	})
	mux.HandleFunc("GET "+DownloadPrefix+"{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleDownload(ctx, w, r)
	})
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.Config.Registry, promhttp.HandlerOpts{}))

	// Add middleware
	handler := cors.Handler(cors.Options{
		AllowedOrigins: s.Config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	})(mux)
	handler = Recoverer(handler)
	handler = LogRequest(handler)
	handler = RequestID(handler)
	return handler
}
