package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/attendo/internal/config"
	"github.com/andresmejia3/attendo/internal/engine"
	"github.com/andresmejia3/attendo/internal/gallery"
	"github.com/andresmejia3/attendo/internal/imagenorm"
	"github.com/andresmejia3/attendo/internal/logging"
	"github.com/andresmejia3/attendo/internal/pipeline"
	"github.com/andresmejia3/attendo/internal/remote"
	"github.com/andresmejia3/attendo/internal/store"
	"github.com/andresmejia3/attendo/internal/worker"
)

var (
	cfg    *config.Config
	logger = zap.NewNop()
	// DB is the attendance log. It stays nil unless a database URL is configured.
	DB *store.Store

	dbURL    string
	dataDir  string
	engineID string
	logLevel string
)

// Version is the application version.
const Version = "0.1.0"

// errRunFailed is returned after a pipeline outcome has already been reported to the user.
var errRunFailed = errors.New("run failed")

var rootCmd = &cobra.Command{
	Use:           "attendo",
	Short:         "Face attendance capture and registration pipeline",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		applyFlags(cmd, c)
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		l, err := logging.NewLogger(c.LogLevel, c.IsDevelopment())
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		cfg, logger = c, l

		if c.DatabaseURL != "" {
			DB, err = store.New(cmd.Context(), c.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
		}
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	// Post-run hooks are skipped when a command fails, so release resources here.
	if DB != nil {
		DB.Close()
	}
	_ = logger.Sync()

	if err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the attendance log (env ATTENDO_DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding the gallery, profiles and temp files (env ATTENDO_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&engineID, "engine", "", "Recognition engine transport: worker or http (env ATTENDO_ENGINE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (env ATTENDO_LOG_LEVEL)")
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		c.DatabaseURL = dbURL
	}
	if flags.Changed("data-dir") {
		c.DataDir = dataDir
	}
	if flags.Changed("engine") {
		c.Engine = engineID
	}
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
}

// newTransport picks the engine transport named by the configuration.
func newTransport(c *config.Config, logger *zap.Logger) engine.Transport {
	if c.Engine == config.EngineHTTP {
		return remote.NewClient(remote.Config{BaseURL: c.EngineURL, Timeout: c.EngineTimeout}, logger)
	}
	return worker.NewTransport(worker.Options{
		Python:  c.EnginePython,
		Script:  c.EngineScript,
		Timeout: c.EngineTimeout,
	}, logger)
}

func newGallery(c *config.Config) *gallery.Store {
	return gallery.New(c.GalleryPath(), c.GallerySeed, logger)
}

// newRunner wires the pipeline from the loaded configuration. The caller closes the
// returned engine client.
func newRunner(c *config.Config) (*pipeline.Runner, *engine.Client) {
	client := engine.NewClient(newTransport(c, logger), logger)

	var recorder pipeline.Recorder
	if DB != nil {
		recorder = DB
	}

	runner := pipeline.NewRunner(pipeline.Options{
		Normalizer: imagenorm.New(imagenorm.Options{
			WorkDir: c.TempDir(),
			MaxEdge: c.MaxEdge,
			Quality: c.JPEGQuality,
		}, logger),
		Gallery:           newGallery(c),
		Engine:            client,
		Recorder:          recorder,
		ProfilesDir:       c.ProfilesDir(),
		LivenessThreshold: c.LivenessThreshold,
	}, logger)
	return runner, client
}
