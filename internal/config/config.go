// Package config loads gateway configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Supported object store backends.
const (
	BackendMinio  = "minio"
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendDisk   = "disk"
	BackendMemory = "memory"
)

// DefaultMinioEndpoint is used when STORE_ENDPOINT is unset and the backend
// is minio.
const DefaultMinioEndpoint = "localhost:9000"

var (
	backends   = []string{BackendMinio, BackendS3, BackendGCS, BackendDisk, BackendMemory}
	logFormats = []string{"text", "json", "logfmt"}
)

// Config holds all runtime configuration for the gateway.
type Config struct {
	Port string

	// Object storage
	Backend           string
	Bucket            string
	StoreEndpoint     string
	StoreAccessKey    string
	StoreSecretKey    string
	StoreRegion       string
	StoreUseSSL       bool
	StoreCreateBucket bool
	DataDir           string // disk backend root

	AllowedExtensions []string
	AllowedOrigins    []string
	MaxUploadBytes    int64 // 0 disables the limit

	LogLevel  string
	LogFormat string
}

// Load reads configuration from a .env file (if present) and environment
// variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, reading from environment")
	}

	var errs []error

	backend := strings.ToLower(getEnv("STORE_BACKEND", BackendMinio))
	endpoint := getEnv("STORE_ENDPOINT", "")
	if endpoint == "" && backend == BackendMinio {
		endpoint = DefaultMinioEndpoint
	}

	useSSL, err := getEnvBool("STORE_USE_SSL", false)
	errs = append(errs, err)
	createBucket, err := getEnvBool("STORE_CREATE_BUCKET", false)
	errs = append(errs, err)
	maxUpload, err := getEnvInt64("MAX_UPLOAD_BYTES", 5<<30)
	errs = append(errs, err)

	cfg := &Config{
		Port: getEnv("PORT", "3000"),

		Backend:           backend,
		Bucket:            getEnv("BUCKET_NAME", ""),
		StoreEndpoint:     endpoint,
		StoreAccessKey:    getEnv("STORE_ACCESS_KEY", ""),
		StoreSecretKey:    getEnv("STORE_SECRET_KEY", ""),
		StoreRegion:       getEnv("STORE_REGION", "us-east-1"),
		StoreUseSSL:       useSSL,
		StoreCreateBucket: createBucket,
		DataDir:           getEnv("DATA_DIR", "./data"),

		AllowedExtensions: SplitList(getEnv("ALLOWED_EXTENSIONS", ".zip,.tar")),
		AllowedOrigins:    SplitList(getEnv("ALLOWED_ORIGINS", "*")),
		MaxUploadBytes:    maxUpload,

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot start a gateway.
func (c *Config) Validate() error {
	if !slices.Contains(backends, c.Backend) {
		return fmt.Errorf("unknown store backend %q, expected one of %s", c.Backend, strings.Join(backends, ", "))
	}
	if c.NeedsBucket() && c.Bucket == "" {
		return fmt.Errorf("BUCKET_NAME is required for the %s backend", c.Backend)
	}
	if c.Backend == BackendDisk && c.DataDir == "" {
		return errors.New("DATA_DIR is required for the disk backend")
	}
	if len(c.AllowedExtensions) == 0 {
		return errors.New("at least one allowed extension is required")
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must not be negative, got %d", c.MaxUploadBytes)
	}
	if !slices.Contains(logFormats, c.LogFormat) {
		return fmt.Errorf("unknown log format %q, expected one of %s", c.LogFormat, strings.Join(logFormats, ", "))
	}
	return nil
}

// NeedsBucket returns true when the backend stores objects in a remote
// bucket.
func (c *Config) NeedsBucket() bool {
	return c.Backend == BackendMinio || c.Backend == BackendS3 || c.Backend == BackendGCS
}

// SplitList splits a comma separated value, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for item := range strings.SplitSeq(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
