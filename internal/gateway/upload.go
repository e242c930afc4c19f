package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"filegate/internal/keys"
	"filegate/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
)

// UploadFieldName is the multipart field carrying the uploaded file.
const UploadFieldName = "file-to-upload"

// ErrMissingFile is returned when an upload request has no file part named
// UploadFieldName.
var ErrMissingFile = errors.New("no file provided in field " + UploadFieldName)

// StoreWriteError reports a failure of the object store while an upload was
// being written.
type StoreWriteError struct {
	Key string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write failed for %q: %v", e.Key, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// UploadRequest is an in-flight upload. Body is read exactly once.
type UploadRequest struct {
	Filename    string
	FieldName   string
	ContentType string
	Body        io.Reader
}

// UploadOutcome describes a completed upload.
type UploadOutcome struct {
	Key          string
	Sanitized    string
	OriginalName string
	Renamed      bool
	Size         int64
}

// Message is the human-readable response for the uploader.
func (o UploadOutcome) Message() string {
	if !o.Renamed {
		return "Successfully uploaded " + o.Key
	}
	return fmt.Sprintf("%s already exists, successfully uploaded %s as %s", o.Sanitized, o.OriginalName, o.Key)
}

// Uploader resolves keys for incoming files and streams them into the
// store.
type Uploader struct {
	store       storage.ObjectStore
	resolver    *keys.Resolver
	probeErrors prometheus.Counter
}

func NewUploader(store storage.ObjectStore, resolver *keys.Resolver) *Uploader {
	return &Uploader{store: store, resolver: resolver}
}

// Upload rejects unsupported filenames before touching the store, then
// resolves the key and streams req.Body into it.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) (UploadOutcome, error) {
	res, err := u.resolver.Resolve(ctx, req.Filename, u.exists)
	if err != nil {
		return UploadOutcome{}, err
	}

	body := &countingReader{r: req.Body}
	opts := storage.PutOptions{
		ContentType: req.ContentType,
		Metadata:    map[string]string{"fieldName": req.FieldName},
	}

	if err := u.store.PutStream(ctx, res.Key, body, opts); err != nil {
		// Body read failures and client disconnects are not store faults.
		if body.err != nil {
			return UploadOutcome{}, fmt.Errorf("read upload body: %w", body.err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return UploadOutcome{}, fmt.Errorf("upload interrupted: %w", ctxErr)
		}
		return UploadOutcome{}, &StoreWriteError{Key: res.Key, Err: err}
	}

	outcome := UploadOutcome{
		Key:          res.Key,
		Sanitized:    res.Sanitized,
		OriginalName: req.Filename,
		Renamed:      res.Renamed,
		Size:         body.n,
	}

	slog.Info("Upload complete", "key", outcome.Key, "original", outcome.OriginalName, "renamed", outcome.Renamed, "size", outcome.Size)
	return outcome, nil
}

func (u *Uploader) exists(ctx context.Context, key string) (bool, error) {
	found, err := u.store.HeadExists(ctx, key)
	if err != nil && u.probeErrors != nil {
		u.probeErrors.Inc()
	}
	return found, err
}

// handleUpload implements POST /. The multipart body is read part by part so
// the file is streamed into the store as it arrives.
func (s *Server) handleUpload(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if s.Config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.Config.MaxUploadBytes)
	}

	part, err := findFilePart(r, UploadFieldName)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}
	defer part.Close()

	outcome, err := s.uploader.Upload(ctx, UploadRequest{
		Filename:    part.FileName(),
		FieldName:   part.FormName(),
		ContentType: part.Header.Get("Content-Type"),
		Body:        part,
	})
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	if outcome.Renamed {
		s.metrics.upload(resultRenamed, outcome.Size)
	} else {
		s.metrics.upload(resultOK, outcome.Size)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, outcome.Message())
}

// findFilePart advances through the multipart body until it reaches the
// file part named field. Parts before it are discarded.
func findFilePart(r *http.Request, field string) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("read multipart body: %w", err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingFile
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart body: %w", err)
		}

		if part.FormName() != field {
			_ = part.Close()
			continue
		}

		if part.FileName() == "" {
			_ = part.Close()
			return nil, ErrMissingFile
		}
		return part, nil
	}
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var (
		maxErr   *http.MaxBytesError
		storeErr *StoreWriteError
	)

	switch {
	case errors.As(err, &maxErr):
		s.metrics.upload(resultTooLarge, 0)
		http.Error(w, fmt.Sprintf("Upload exceeds the limit of %d bytes", maxErr.Limit), http.StatusRequestEntityTooLarge)
	case errors.Is(err, keys.ErrUnsupportedFileType):
		s.metrics.upload(resultRejected, 0)
		http.Error(w, "Unsupported file type, accepted extensions: "+s.extensionList(), http.StatusUnsupportedMediaType)
	case errors.Is(err, keys.ErrInvalidFilename), errors.Is(err, ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		s.metrics.upload(resultRejected, 0)
		http.Error(w, "Bad upload request: "+err.Error(), http.StatusBadRequest)
	case errors.As(err, &storeErr):
		s.metrics.upload(resultError, 0)
		slog.Error("Upload failed", "key", storeErr.Key, "err", storeErr.Err)
		http.Error(w, "Upload failed, please try again", http.StatusInternalServerError)
	default:
		// Malformed multipart framing, a truncated body or a client that
		// went away mid-body.
		s.metrics.upload(resultRejected, 0)
		slog.Warn("Upload request unreadable", "err", err)
		http.Error(w, "Bad upload request", http.StatusBadRequest)
	}
}

// countingReader counts the bytes read from r and remembers the first
// error other than io.EOF.
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && c.err == nil {
		c.err = err
	}
	return n, err
}
