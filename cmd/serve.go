package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/attendo/internal/api"
	"github.com/andresmejia3/attendo/internal/config"
	"github.com/andresmejia3/attendo/internal/remote"
	"github.com/andresmejia3/attendo/internal/utils"
)

const shutdownTimeout = 15 * time.Second

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the attendance pipeline over HTTP for a UI",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		addr := cfg.ListenAddr
		if cmd.Flags().Changed("listen") {
			addr = listenAddr
		}

		runner, client := newRunner(cfg)
		defer client.Close()
		checkEngine(cmd.Context(), cfg, logger)

		if !cfg.IsDevelopment() {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(gin.Recovery(), requestLogger(logger))
		router.MaxMultipartMemory = api.MaxUploadSize

		deps := api.Deps{
			Pipeline:  runner,
			Gallery:   newGallery(cfg),
			UploadDir: cfg.TempDir(),
			Logger:    logger,
		}
		if DB != nil {
			deps.Log = DB
		}
		api.RegisterRoutes(router, deps)

		server := &http.Server{
			Addr:    addr,
			Handler: router,
		}

		logger.Info("attendo API listening", zap.String("addr", addr))
		if err := serveHTTP(cmd.Context(), server, nil, logger); err != nil {
			utils.Die("HTTP server failed", err, nil)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on (env ATTENDO_LISTEN_ADDR, default :8080)")
	rootCmd.AddCommand(serveCmd)
}

// serveHTTP runs server until ctx is cancelled, then shuts it down gracefully.
// A nil listener makes the server listen on its own Addr.
func serveHTTP(ctx context.Context, server *http.Server, listener net.Listener, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

// checkEngine warns when a remote recognition service does not answer. The server still
// starts; requests fail with an engine error until the service is up.
func checkEngine(ctx context.Context, c *config.Config, logger *zap.Logger) {
	if c.Engine != config.EngineHTTP {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	probe := remote.NewClient(remote.Config{BaseURL: c.EngineURL, Timeout: c.EngineTimeout}, logger)
	if err := probe.Health(ctx); err != nil {
		logger.Warn("recognition service is not reachable", zap.String("url", c.EngineURL), zap.Error(err))
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
