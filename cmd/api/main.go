package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nexus-verify/internal/config"
	"github.com/nexus-verify/internal/domain"
	jwtinfra "github.com/nexus-verify/internal/infrastructure/jwt"
	transporthttp "github.com/nexus-verify/internal/transport/http"
	"github.com/spf13/cobra"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}
	cfg := config.Load()
	setupLogger(cfg)

	root := &cobra.Command{
		Use:           "api",
		Short:         "Discord verification gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(cfg), bootstrapCmd(cfg), sweepCmd(cfg), tokenCmd(cfg))

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var h slog.Handler
	if cfg.AppEnv == "production" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func serveCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			// JWT provider is optional; the admin routes are disabled without it.
			var jwtProvider *jwtinfra.Provider
			if p, err := jwtinfra.NewProvider(cfg); err == nil {
				jwtProvider = p
			} else {
				slog.Warn("JWT provider not available, admin routes disabled", "err", err)
			}

			router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
				Verification: app.verification,
				Erasure:      app.erasure,
				JWTProvider:  jwtProvider,
			})

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%s", cfg.AppPort),
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "ledger", cfg.LedgerBackend)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
			case <-ctx.Done():
			}

			slog.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("forced shutdown: %w", err)
			}
			slog.Info("server stopped")
			return nil
		},
	}
}

func bootstrapCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the ledger tables or schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrapLedger(cmd.Context(), cfg)
		},
	}
}

func sweepCmd(cfg *config.Config) *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Purge every queued erasure request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			app, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			rep, err := app.erasure.Sweep(cmd.Context(), operator)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sweep %s: %d requests, %d purged, %d roles removed, %d not in guild\n",
				rep.ID, rep.Requests, rep.Purged, rep.RolesRemoved, rep.NotInGuild)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "cli", "operator name recorded in the audit trail")
	return cmd
}

func tokenCmd(cfg *config.Config) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "token <operator>",
		Short: "Mint an operator JWT for the admin API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := jwtinfra.NewProvider(cfg)
			if err != nil {
				return err
			}
			tok, err := p.Sign(args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", domain.RoleAdmin, "role claim")
	return cmd
}
