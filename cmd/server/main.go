package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/imrenagi/webdropper/config"
	"github.com/imrenagi/webdropper/server"
	"github.com/imrenagi/webdropper/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.Default()
	backend := string(cfg.Storage.Backend)

	cmd := &cobra.Command{
		Use:   "webdropper",
		Short: "Receive files from a browser and drop them into a directory",
		Long: `webdropper serves an upload page. Every file posted from it is written
into the target directory under the name it was uploaded with,
replacing any existing file of the same name.

Examples:
  webdropper --target-dir /srv/drop
  webdropper -t ./incoming --bind 0.0.0.0:8080 --limit 1073741824
  webdropper --backend gcs --bucket my-drop --prefix incoming/`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Storage.Backend = config.Backend(backend)
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.Storage.Dir, "target-dir", "t", "", "Path to the directory where files will be put")
	flags.StringVarP(&cfg.Bind, "bind", "b", cfg.Bind, "Address to bind to")
	flags.Int64VarP(&cfg.BodyLimit, "limit", "l", cfg.BodyLimit, "Maximum request body size in bytes")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	flags.StringVar(&backend, "backend", backend, "Storage backend: disk, gcs or s3")
	flags.StringVar(&cfg.Storage.Bucket, "bucket", "", "Bucket name for the gcs and s3 backends")
	flags.StringVar(&cfg.Storage.Prefix, "prefix", "", "Object name prefix for the gcs and s3 backends")
	flags.BoolVar(&cfg.SkipUnnamedParts, "skip-unnamed-parts", false, "Skip parts without a filename instead of rejecting the request")
	flags.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for traces (disabled when empty)")
	flags.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Maximum duration for reading a whole request")
	flags.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Maximum duration for writing a response")

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	if err := server.InitializeLogger(cfg.LogLevel); err != nil {
		return err
	}

	cfg, err := cfg.Validate()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	srv := server.New(cfg, store)
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("failed to run the server")
		return err
	}
	return nil
}
