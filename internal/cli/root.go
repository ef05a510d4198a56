// Package cli implements the contraverify command line.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/config"
)

var (
	cfgFile string
	apiKey  string
)

// Execute runs the CLI
func Execute(version string) error {
	rootCmd := &cobra.Command{
		Use:     "contraverify",
		Short:   "Verify deployed contracts on Etherscan",
		Long:    `Contraverify submits the flattened source of deployed Truffle artifacts to Etherscan-compatible explorers and waits for the verification result.`,
		Version: version,
		// Errors are printed once by main.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: contraverify.toml or verify.toml)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Etherscan API key")

	// Add subcommands
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createHistoryCmd())
	rootCmd.AddCommand(createServeCmd(version))
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd.Execute()
}

// getAPIKey returns the API key from flag, env, or the credentials file.
// Credentials saved for the network win over the default entry.
func getAPIKey(network string) string {
	// 1. Command line flag
	if apiKey != "" {
		return apiKey
	}

	// 2. Environment variables
	for _, name := range []string{"ETHERSCAN_API_KEY", "API_KEY"} {
		if env := os.Getenv(name); env != "" {
			return env
		}
	}

	// 3. Credentials file
	if cred := getCredential(network); cred != "" {
		return cred
	}
	return getCredential(defaultCredential)
}

// setupLogger writes to stderr so command output on stdout stays parseable.
func setupLogger(cfg *config.Config, verbose bool) *slog.Logger {
	return newLogger(os.Stderr, cfg.Logging, verbose)
}

func newLogger(w io.Writer, cfg config.LoggingConfig, verbose bool) *slog.Logger {
	var handler slog.Handler

	level := parseLogLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
