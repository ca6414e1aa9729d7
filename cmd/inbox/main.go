package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/LeventeLantos/webhook-inbox/internal/config"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Webhook inbox for chat provider payloads",
	Long: `inbox ingests chat provider webhook payloads, stores messages and
contacts idempotently and fans out realtime updates to connected clients.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return setupLogging(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug,info,warn,error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (text,json); overrides LOG_FORMAT")

	rootCmd.AddCommand(newServeCommand(), newIngestCommand(), newReplayCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs the process-wide slog handler. Flags win over the
// environment so one-off commands can be made verbose.
func setupLogging(cmd *cobra.Command) error {
	cfg, err := config.LoadLog()
	if err != nil && logLevel == "" && logFormat == "" {
		return err
	}
	if err := cfg.Set(logLevel, logFormat); err != nil {
		return fmt.Errorf("cannot parse log flags: %w", err)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	} else {
		h = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	}
	slog.SetDefault(slog.New(h))
	slog.Debug("debug logging enabled")
	return nil
}
