package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"chatrelay-backend/internal/config"
)

var (
	cfg    *config.Config
	logger zerolog.Logger

	rootCmd = &cobra.Command{
		Use:           "server",
		Short:         "Streaming chat relay with versioned conversation history",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running without a subcommand serves.
		RunE: runServe,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return err
		}
		logger = newLogger(cfg)
		log.Logger = logger
		return nil
	}
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

// newLogger builds the root logger: console output in development, JSON otherwise.
func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)
}
