package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"filegate/internal/storage"
)

// DownloadPrefix is the routing prefix in front of a key on download URLs.
const DownloadPrefix = "/get/"

// ParseDownloadKey returns the key segment following DownloadPrefix in
// urlPath. Nested keys are not supported: anything after the first segment
// is dropped.
func ParseDownloadKey(urlPath string) string {
	rest, ok := strings.CutPrefix(urlPath, DownloadPrefix)
	if !ok {
		return ""
	}
	key, _, _ := strings.Cut(rest, "/")
	return key
}

// handleDownload implements GET /get/<key>. Any failure to open the object
// is answered with an empty 404. Once the body has started, a store error
// can no longer change the status, so the connection is aborted instead.
func (s *Server) handleDownload(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	key := ParseDownloadKey(r.URL.Path)
	if key == "" {
		s.metrics.download(resultNotFound, 0)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	obj, err := s.Config.Store.GetStream(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			slog.Debug("Download of missing key", "key", key)
		} else {
			slog.Error("Download open failed", "key", key, "err", err)
		}
		s.metrics.download(resultNotFound, 0)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer obj.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := w.Header()
	header.Set("Content-Type", contentType)
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": key}))
	if obj.Size >= 0 {
		header.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	if !obj.LastModified.IsZero() {
		header.Set("Last-Modified", obj.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, obj)
	if err != nil {
		s.metrics.download(resultAborted, n)
		if ctx.Err() != nil {
			slog.Debug("Download cancelled by client", "key", key, "written", n)
		} else {
			slog.Error("Download aborted mid-stream", "key", key, "written", n, "err", err)
		}
		panic(http.ErrAbortHandler)
	}

	s.metrics.download(resultOK, n)
}
