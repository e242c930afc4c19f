package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"filegate/internal/config"
	"filegate/internal/gateway"
	"filegate/internal/keys"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type ServeOptions struct {
	Config *config.Config

	Port              string
	Backend           string
	Bucket            string
	DataDir           string
	AllowedExtensions []string
	MaxUploadBytes    int64
	LogLevel          string
	LogFormat         string
}

func NewServeOptions() *ServeOptions {
	return &ServeOptions{}
}

func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the upload gateway HTTP server",
		Long: `Start the upload gateway HTTP server.

Configuration is read from the environment and an optional .env file.
Flags override the corresponding environment variables.`,
		Example: `  # Start against a local MinIO
  BUCKET_NAME=uploads filegate serve

  # Keep uploads on local disk
  filegate serve --backend disk --data-dir /var/lib/filegate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			return o.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&o.Port, "port", "p", "", "Port to listen on (PORT)")
	cmd.Flags().StringVar(&o.Backend, "backend", "", "Object store backend: minio, s3, gcs, disk or memory (STORE_BACKEND)")
	cmd.Flags().StringVarP(&o.Bucket, "bucket", "b", "", "Bucket name (BUCKET_NAME)")
	cmd.Flags().StringVar(&o.DataDir, "data-dir", "", "Root directory of the disk backend (DATA_DIR)")
	cmd.Flags().StringSliceVar(&o.AllowedExtensions, "allowed-extensions", nil, "Accepted file extensions (ALLOWED_EXTENSIONS)")
	cmd.Flags().Int64Var(&o.MaxUploadBytes, "max-upload-bytes", 0, "Upload body limit in bytes, 0 disables (MAX_UPLOAD_BYTES)")
	cmd.Flags().StringVar(&o.LogLevel, "log-level", "", "Log level: debug, info, warn or error (LOG_LEVEL)")
	cmd.Flags().StringVar(&o.LogFormat, "log-format", "", "Log format: text, json or logfmt (LOG_FORMAT)")

	return cmd
}

// Complete loads the environment configuration and applies any flags the
// user set on top of it.
func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = o.Port
	}
	if flags.Changed("backend") {
		cfg.Backend = o.Backend
		if cfg.Backend != config.BackendMinio && cfg.StoreEndpoint == config.DefaultMinioEndpoint {
			cfg.StoreEndpoint = ""
		}
	}
	if flags.Changed("bucket") {
		cfg.Bucket = o.Bucket
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = o.DataDir
	}
	if flags.Changed("allowed-extensions") {
		cfg.AllowedExtensions = o.AllowedExtensions
	}
	if flags.Changed("max-upload-bytes") {
		cfg.MaxUploadBytes = o.MaxUploadBytes
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = o.LogFormat
	}

	o.Config = cfg
	return nil
}

func (o *ServeOptions) Validate() error {
	return o.Config.Validate()
}

func (o *ServeOptions) Run(ctx context.Context) error {
	cfg := o.Config

	if err := setupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Warn("Closing store failed", "err", err)
		}
	}()

	resolver := keys.NewResolver(keys.WithExtensions(cfg.AllowedExtensions...))

	server, err := gateway.NewServer(gateway.NewConfig(
		gateway.WithStore(store),
		gateway.WithResolver(resolver),
		gateway.WithAllowedOrigins(cfg.AllowedOrigins...),
		gateway.WithMaxUploadBytes(cfg.MaxUploadBytes),
	))
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}

	// Transfers are unbounded; only the header read has a deadline.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting filegate HTTP server",
			"port", cfg.Port,
			"backend", cfg.Backend,
			"bucket", cfg.Bucket,
			"extensions", resolver.Extensions(),
			"stamp", resolver.Stamp(),
		)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	if err := eg.Wait(); err != nil {
		return err
	}

	slog.Info("Filegate stopped")
	return nil
}
