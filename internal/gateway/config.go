package gateway

import (
	"filegate/internal/keys"
	"filegate/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMaxUploadBytes caps request bodies on POST / unless overridden.
const DefaultMaxUploadBytes int64 = 5 << 30

type Config struct {
	Store          storage.ObjectStore
	Resolver       *keys.Resolver
	AllowedOrigins []string

	// MaxUploadBytes limits the size of an upload request body. Zero or a
	// negative value disables the limit.
	MaxUploadBytes int64

	// Registry receives the gateway metrics and backs /metrics.
	Registry *prometheus.Registry
}

type ConfigOption func(*Config)

func WithStore(store storage.ObjectStore) ConfigOption {
	return func(cfg *Config) {
		cfg.Store = store
	}
}

func WithResolver(resolver *keys.Resolver) ConfigOption {
	return func(cfg *Config) {
		cfg.Resolver = resolver
	}
}

func WithAllowedOrigins(origins ...string) ConfigOption {
	return func(cfg *Config) {
		cfg.AllowedOrigins = origins
	}
}

func WithMaxUploadBytes(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxUploadBytes = n
	}
}

func WithRegistry(registry *prometheus.Registry) ConfigOption {
	return func(cfg *Config) {
		cfg.Registry = registry
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		AllowedOrigins: []string{"*"},
		MaxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
