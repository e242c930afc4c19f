// Package keys turns untrusted client filenames into storage keys.
//
// A key is the lower-cased base name with every run of characters outside
// [A-Za-z0-9] collapsed to a single underscore, followed by the lower-cased
// extension. Only a fixed set of extensions is accepted. When the key is
// already taken in the store, the resolver's start stamp is inserted before
// the extension.
package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnsupportedFileType is returned for filenames whose extension is not
	// in the accepted set.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrInvalidFilename is returned for filenames with nothing left to name
	// the object once the extension is removed.
	ErrInvalidFilename = errors.New("invalid filename")

	nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// DefaultExtensions is the accepted set used when none is configured.
var DefaultExtensions = []string{".zip", ".tar"}

// MaxBaseLength caps the sanitized base name in bytes. With the stamp, a
// configured extension and the disk backend's ".json" sidecar suffix the key
// stays under the 255 byte file name limit.
const MaxBaseLength = 200

// ExistsFunc probes the store for key.
type ExistsFunc func(ctx context.Context, key string) (bool, error)

// Resolution is the result of resolving a filename.
type Resolution struct {
	// Key is the storage key to write to.
	Key string

	// Sanitized is the key derived from the filename alone.
	Sanitized string

	// Renamed is true when Key differs from Sanitized because of a
	// collision.
	Renamed bool
}

type Resolver struct {
	extensions map[string]struct{}
	stamp      string
}

type Option func(*Resolver)

// WithExtensions replaces the accepted extension set. Extensions are matched
// case-insensitively as filename suffixes, so multi-dot extensions such as
// ".tar.gz" work, and may be given with or without the leading dot.
func WithExtensions(exts ...string) Option {
	return func(r *Resolver) {
		r.extensions = make(map[string]struct{}, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			r.extensions[ext] = struct{}{}
		}
	}
}

// WithStartTime fixes the disambiguator to t.
func WithStartTime(t time.Time) Option {
	return func(r *Resolver) {
		r.stamp = strconv.FormatInt(t.UnixMilli(), 10)
	}
}

// NewResolver returns a Resolver whose disambiguator is the construction
// time unless overridden.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	WithExtensions(DefaultExtensions...)(r)
	WithStartTime(time.Now())(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Extensions returns the accepted extensions.
func (r *Resolver) Extensions() []string {
	exts := make([]string, 0, len(r.extensions))
	for ext := range r.extensions {
		exts = append(exts, ext)
	}
	return exts
}

// Stamp returns the disambiguator inserted into renamed keys.
func (r *Resolver) Stamp() string {
	return r.stamp
}

// Sanitize derives the storage key for filename without consulting the
// store. It is idempotent: sanitizing a key it produced yields the same key.
func (r *Resolver) Sanitize(filename string) (string, error) {
	// Browsers and some clients send full paths; keep only the last element.
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))

	ext := r.matchExtension(name)
	if ext == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, filename)
	}

	base := name[:len(name)-len(ext)]
	if base == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}

	// The replacement leaves only ASCII, so a byte cut is safe.
	base = nonAlphanumeric.ReplaceAllString(strings.ToLower(base), "_")
	if len(base) > MaxBaseLength {
		base = base[:MaxBaseLength]
	}
	return base + ext, nil
}

// matchExtension returns the longest accepted extension that name ends
// with, lower-cased, or "" if none matches.
func (r *Resolver) matchExtension(name string) string {
	lower := strings.ToLower(name)
	best := ""
	for ext := range r.extensions {
		if len(ext) > len(best) && strings.HasSuffix(lower, ext) {
			best = ext
		}
	}
	return best
}

// Resolve sanitizes filename and checks the result against the store once.
// A key that exists gets the resolver stamp inserted before its extension;
// the renamed key is not checked again. A failed probe counts as "does not
// exist".
func (r *Resolver) Resolve(ctx context.Context, filename string, exists ExistsFunc) (Resolution, error) {
	sanitized, err := r.Sanitize(filename)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Key: sanitized, Sanitized: sanitized}

	found, err := exists(ctx, sanitized)
	if err != nil {
		slog.Warn("Existence probe failed, assuming key is free", "key", sanitized, "err", err)
		return res, nil
	}

	if found {
		// Sanitized bases contain no dots, so the extension starts at the
		// first one.
		i := strings.IndexByte(sanitized, '.')
		res.Key = sanitized[:i] + "_" + r.stamp + sanitized[i:]
		res.Renamed = true
	}
	return res, nil
}
