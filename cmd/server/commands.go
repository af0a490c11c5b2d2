package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chatrelay-backend/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema for the configured driver",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating %s store: %w", cfg.DBDriver, err)
		}
		logger.Info().Str("driver", cfg.DBDriver).Msg("migrations completed")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a session token signed with JWT_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		authSvc, err := services.NewAuthService("", cfg.JWTSecret, cfg.TokenExpiration, logger)
		if err != nil {
			return err
		}
		tok, err := authSvc.Issue()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
		return nil
	},
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: event streams stay open for the whole generation.
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("port", cfg.HTTPPort).Str("driver", cfg.DBDriver).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listening on %s: %w", cfg.HTTPPort, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			// Open event streams do not drain on their own.
			logger.Warn().Err(err).Msg("graceful shutdown timed out, closing connections")
			return server.Close()
		}
		return nil
	})
	g.Go(func() error {
		if err := app.Streams.Listen(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("abort subscriber: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server shutdown complete")
	return nil
}
