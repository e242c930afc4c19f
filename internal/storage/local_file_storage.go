package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidKey is returned by LocalFileStorage for keys that cannot be
// mapped onto a single file name.
var ErrInvalidKey = errors.New("invalid object key")

const (
	objectsDir  = "objects"
	metadataDir = "meta"
	tempDir     = "tmp"
)

// LocalFileStorage is an ObjectStore that keeps objects on the local
// filesystem. The layout under dataDir is:
//
//	objects/<key>      payload
//	meta/<key>.json    content type and user metadata
//	tmp/               in-flight uploads
//
// Uploads are written to tmp and renamed into place once complete, so
// readers never observe a partially written object.
type LocalFileStorage struct {
	dataDir string
}

type localMetadata struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewLocalFileStorage creates the directory layout under dataDir and returns
// a LocalFileStorage rooted there.
func NewLocalFileStorage(dataDir string) (*LocalFileStorage, error) {
	for _, dir := range []string{objectsDir, metadataDir, tempDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("disk: create %s dir: %w", dir, err)
		}
	}
	return &LocalFileStorage{dataDir: dataDir}, nil
}

// ObjectPath computes the payload path for key. Keys containing path
// separators or naming a relative directory are rejected so that a key can
// never escape the objects directory.
func ObjectPath(dataDir string, key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(dataDir, objectsDir, key), nil
}

func (s *LocalFileStorage) metadataPath(key string) string {
	return filepath.Join(s.dataDir, metadataDir, key+".json")
}

func (s *LocalFileStorage) HeadExists(ctx context.Context, key string) (bool, error) {
	objPath, err := ObjectPath(s.dataDir, key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (s *LocalFileStorage) PutStream(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	objPath, err := ObjectPath(s.dataDir, key)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Join(s.dataDir, tempDir), "upload-*")
	if err != nil {
		return fmt.Errorf("disk: create temp file: %w", err)
	}
	tempPath := f.Name()
	defer os.Remove(tempPath)

	if _, err := io.Copy(f, contextReader{ctx: ctx, r: body}); err != nil {
		_ = f.Close()
		return fmt.Errorf("disk: write %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("disk: close %q: %w", key, err)
	}

	meta, err := json.Marshal(localMetadata{ContentType: opts.ContentType, Metadata: opts.Metadata})
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.metadataPath(key), meta, 0o644); err != nil {
		return fmt.Errorf("disk: write metadata %q: %w", key, err)
	}

	return MoveFile(tempPath, objPath)
}

func (s *LocalFileStorage) GetStream(ctx context.Context, key string) (*Object, error) {
	objPath, err := ObjectPath(s.dataDir, key)
	if err != nil {
		return nil, ErrNotFound
	}

	f, err := os.Open(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, ErrNotFound
	}

	var meta localMetadata
	if raw, err := os.ReadFile(s.metadataPath(key)); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}
	if meta.ContentType == "" {
		meta.ContentType = mime.TypeByExtension(filepath.Ext(key))
	}

	return &Object{
		ReadCloser:   f,
		ContentType:  meta.ContentType,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

// List returns the object keys in directory order.
func (s *LocalFileStorage) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, objectsDir))
	if err != nil {
		return nil, fmt.Errorf("disk: list: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			keys = append(keys, entry.Name())
		}
	}
	return keys, nil
}

// contextReader stops an in-progress copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
