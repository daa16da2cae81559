// Package main provides the entry point for the Terestria tile cache service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/app"
	"github.com/SandiRizqi/terestria-sub000/internal/config"
	"github.com/SandiRizqi/terestria-sub000/internal/logger"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "terestria",
	Short: "Terestria - Offline Map Tile Cache",
	Long: `Terestria serves raster map tiles for field mapping.

Remote XYZ tile servers are cached on first use and georeferenced PDF maps
are rasterized into a local tile pyramid, so both can be used offline.

Features:
  - Read-through tile cache with prioritized, deduplicated downloads
  - PDF import with automatic zoom range selection
  - Offline area downloads with size estimation
  - PDF sources from local disk, AWS S3, Azure or HTTP
  - TLS with automatic certificate management
  - Prometheus metrics`,
	RunE:          runServer,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tile server (default command)",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Terestria %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, console)")
	rootCmd.PersistentFlags().String("cache-dir", "./data/tiles", "tile store directory")
	rootCmd.PersistentFlags().String("catalog", "./data/basemaps.yaml", "basemap catalog file")

	// Server flags
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().String("host", "0.0.0.0", "server host")
		cmd.Flags().Int("port", 8080, "server port")
		cmd.Flags().Bool("tls", false, "enable TLS")
		cmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
		cmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")
		cmd.Flags().String("storage-type", "", "PDF source storage type (local, s3, azure, http)")
		cmd.Flags().String("storage-path", "./data/pdf", "local PDF source path")
		cmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")
		cmd.Flags().Bool("watch", false, "import PDFs dropped into the import directory")
	}

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("cache.dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	_ = viper.BindPFlag("catalog.path", rootCmd.PersistentFlags().Lookup("catalog"))

	rootCmd.AddCommand(serveCmd, versionCmd, importCmd, downloadCmd, cacheCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// bindServerFlags binds the server flags of the command being run. Both
// the root and the serve command carry them.
func bindServerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	_ = viper.BindPFlag("server.host", flags.Lookup("host"))
	_ = viper.BindPFlag("server.port", flags.Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", flags.Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", flags.Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", flags.Lookup("tls-email"))
	_ = viper.BindPFlag("storage.type", flags.Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", flags.Lookup("storage-path"))
	_ = viper.BindPFlag("server.cors.allowed_origins", flags.Lookup("cors"))
	_ = viper.BindPFlag("pdf.watch", flags.Lookup("watch"))
}

func runServer(cmd *cobra.Command, _ []string) error {
	bindServerFlags(cmd)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting Terestria",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("cache_dir", cfg.Cache.Dir),
		zap.String("storage_type", cfg.Storage.Type),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize application
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		if err := application.Start(ctx); err != nil {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case runErr = <-serverErr:
		log.Error("server error", zap.Error(runErr))
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
		return errors.Join(runErr, err)
	}

	log.Info("server stopped")
	return runErr
}

// openApp loads the configuration and catalog for one-shot commands. Log
// output stays at warn unless --log-level was given, so progress bars are
// not interleaved with info lines.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Logging.Level
	if !cmd.Flags().Changed("log-level") {
		level = "warn"
	}
	log, err := logger.New(level, "console")
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	application, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	if err := application.Load(cmd.Context()); err != nil {
		application.Close()
		return nil, fmt.Errorf("loading basemaps: %w", err)
	}
	return application, nil
}
