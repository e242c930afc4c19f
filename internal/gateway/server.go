package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"filegate/internal/keys"
	"filegate/internal/ui"

	"github.com/prometheus/client_golang/prometheus"
)

// Server is the HTTP front end of the upload gateway.
type Server struct {
	Config Config

	uploader *Uploader
	metrics  *metrics
}

// ObjectEntry is a single element of the /contents listing.
type ObjectEntry struct {
	Key string `json:"Key"`
}

// NewServer validates cfg, fills in defaults and registers the gateway
// metrics.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("gateway: Store must not be nil")
	}

	if cfg.Resolver == nil {
		cfg.Resolver = keys.NewResolver()
	}

	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	m := newMetrics(cfg.Registry)

	uploader := NewUploader(cfg.Store, cfg.Resolver)
	uploader.probeErrors = m.probeErrors

	return &Server{Config: cfg, uploader: uploader, metrics: m}, nil
}

// Uploader returns the upload handler used by POST /.
func (s *Server) Uploader() *Uploader {
	return s.uploader
}

// handleContents implements GET /contents with a single listing call.
func (s *Server) handleContents(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	names, err := s.Config.Store.List(ctx)
	if err != nil {
		slog.Error("Listing failed", "err", err)
		http.Error(w, "Unable to list stored objects", http.StatusInternalServerError)
		return
	}

	entries := make([]ObjectEntry, 0, len(names))
	for _, key := range names {
		entries = append(entries, ObjectEntry{Key: key})
	}

	if err := writeJSONResponse(w, entries); err != nil {
		slog.Debug("Writing listing failed", "err", err)
	}
}

// handleHealth implements GET /health. It never consults the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// handleForm implements GET / by rendering the upload form.
func (s *Server) handleForm(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	page := ui.UploadPage(UploadFieldName, s.extensions())
	if err := page.Render(ctx, w); err != nil {
		slog.Error("Rendering upload form failed", "err", err)
	}
}

func (s *Server) extensions() []string {
	exts := s.Config.Resolver.Extensions()
	slices.Sort(exts)
	return exts
}

func (s *Server) extensionList() string {
	return strings.Join(s.extensions(), ", ")
}

// writeJSONResponse encodes v as JSON and writes it to w with a 200 OK status.
func writeJSONResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(v)
}
