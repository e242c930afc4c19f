package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"filegate/internal/config"
	"filegate/internal/storage"
)

func noopClose() error { return nil }

// openStore builds the ObjectStore selected by cfg.Backend. The returned
// close function releases any client the backend holds.
func openStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, func() error, error) {
	switch cfg.Backend {
	case config.BackendMinio:
		store, err := storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:     cfg.StoreEndpoint,
			AccessKey:    cfg.StoreAccessKey,
			SecretKey:    cfg.StoreSecretKey,
			Region:       cfg.StoreRegion,
			UseSSL:       cfg.StoreUseSSL,
			Bucket:       cfg.Bucket,
			CreateBucket: cfg.StoreCreateBucket,
		})
		return store, noopClose, err

	case config.BackendS3:
		store, err := storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:  cfg.StoreEndpoint,
			Region:    cfg.StoreRegion,
			AccessKey: cfg.StoreAccessKey,
			SecretKey: cfg.StoreSecretKey,
			Bucket:    cfg.Bucket,
		})
		return store, noopClose, err

	case config.BackendGCS:
		store, err := storage.NewGCSStore(ctx, storage.GCSOptions{
			Endpoint: cfg.StoreEndpoint,
			Bucket:   cfg.Bucket,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.BackendDisk:
		// Ensure data directory is absolute for easier debugging.
		dataDir, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve data directory: %w", err)
		}
		store, err := storage.NewLocalFileStorage(dataDir)
		return store, noopClose, err

	case config.BackendMemory:
		return storage.NewMemoryStore(), noopClose, nil
	}

	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
