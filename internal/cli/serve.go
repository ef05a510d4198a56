package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/auth"
	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/middleware/ratelimit"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/server"
)

func createServeCmd(version string) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history over HTTP",
		Long: `Start a read-only HTTP API over the run ledger.

ROUTES:
  GET /healthz
  GET /metrics                      (METRICS_ENABLED=true)
  GET /api/v1/runs                  ?network=&limit=&cursor=
  GET /api/v1/runs/{id}
  GET /api/v1/contracts/{address}   ?network=&limit=

Set SERVER_API_KEYS to require an X-API-Key on /api/v1 routes. Requests
are rate limited per client unless RATE_LIMIT_ENABLED=false.

EXAMPLES:
  contraverify serve
  contraverify serve --host 0.0.0.0 --port 9090

  # Require a key
  SERVER_API_KEYS=$(contraverify serve keygen --hash-only) contraverify serve
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe(cfg, version)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "address to listen on (default from HOST)")
	cmd.Flags().IntVar(&port, "port", 8080, "port to listen on (default from PORT)")

	cmd.AddCommand(createServeKeygenCmd())

	return cmd
}

func createServeKeygenCmd() *cobra.Command {
	var hashOnly bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an API key for the history server",
		Long: `Generate a random API key for SERVER_API_KEYS.

The server accepts either the key itself or its "sha256:" form, so the
plaintext only needs to live with the clients.

EXAMPLES:
  contraverify serve keygen
  contraverify serve keygen --hash-only
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeKeygen(cmd.OutOrStdout(), hashOnly)
		},
	}

	cmd.Flags().BoolVar(&hashOnly, "hash-only", false, "print only the sha256: entry for SERVER_API_KEYS")

	return cmd
}

func runServeKeygen(w io.Writer, hashOnly bool) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	entry := auth.HashPrefix + auth.HashAPIKey(key)

	if hashOnly {
		fmt.Fprintln(w, entry)
		return nil
	}
	fmt.Fprintf(w, "API key:         %s\n", key)
	fmt.Fprintf(w, "SERVER_API_KEYS: %s\n", entry)
	fmt.Fprintln(w, "\nGive the key to clients (history --server-key); configure the server with either value.")
	return nil
}

func runServe(cfg *config.Config, version string) error {
	logger := setupLogger(cfg, false)
	logger.Info("starting contraverify history server", "version", version)

	metrics.Init(cfg.Metrics.Enabled, "contraverify")

	store, err := openLedger(context.Background(), cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := auth.NewKeySet(cfg.Server.APIKeys)
	if err != nil {
		return fmt.Errorf("SERVER_API_KEYS: %w", err)
	}
	opts := []server.Option{server.WithAPIKeys(keys)}
	if keys.Len() == 0 {
		logger.Warn("history API is unauthenticated; set SERVER_API_KEYS to require a key")
	}

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			Enabled:        true,
			RequestsPerMin: cfg.RateLimit.RequestsPerMin,
			BurstSize:      cfg.RateLimit.BurstSize,
			CleanupMinutes: cfg.RateLimit.CleanupMinutes,
			TrustedProxies: cfg.RateLimit.TrustedProxies,
		})
		defer limiter.Stop()
		opts = append(opts, server.WithRateLimiter(limiter))
	}

	srv := server.New(store, logger, opts...)

	// Create HTTP server with configurable timeouts
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
