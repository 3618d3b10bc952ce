// ABOUTME: serve command running the Matrix bridge and the HTTP API until signalled
// ABOUTME: Frontends share one council service and run under an errgroup

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-council/internal/api"
	"github.com/2389/coven-council/internal/auth"
	"github.com/2389/coven-council/internal/bridge"
	"github.com/2389/coven-council/internal/dedupe"
	"github.com/2389/coven-council/internal/format"
)

// shutdownTimeout bounds the HTTP drain on exit.
const shutdownTimeout = 5 * time.Second

// drainTimeout bounds the wait for running tasks before Redis and the ledger close.
const drainTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the council over Matrix and HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	printBanner()

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Matrix.Enabled && !cfg.HTTP.Enabled {
		return errors.New("nothing to serve: enable matrix or http in the config")
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Model:      %s\n", cfg.LLM.Model)
	green.Print("    ▶ ")
	fmt.Printf("Max rounds: %d\n", cfg.Council.MaxRounds)
	if cfg.HTTP.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:       %s\n", cfg.HTTP.Addr)
	}
	if cfg.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:     %s\n", cfg.Matrix.Homeserver)
	}
	if cfg.Redis.Addr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Redis:      %s\n", cfg.Redis.Addr)
	}
	if cfg.Sandbox.URL == "" {
		yellow.Print("    ! ")
		fmt.Println("Sandbox:    not configured")
	}
	fmt.Println()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, buildOptions{distributed: true})
	if err != nil {
		return err
	}
	defer a.Close()

	var matrixBridge *bridge.Bridge
	if cfg.Matrix.Enabled {
		client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
		if err != nil {
			return fmt.Errorf("creating matrix client: %w", err)
		}
		b, err := bridge.New(bridge.Options{
			Service:         a.service,
			Client:          client,
			AllowedRooms:    cfg.Matrix.AllowedRooms,
			CommandPrefix:   cfg.Matrix.CommandPrefix,
			TypingIndicator: cfg.Matrix.TypingIndicator,
			Formatter:       format.New(),
			Dedupe:          dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
			Logger:          logger,
		})
		if err != nil {
			return fmt.Errorf("creating matrix bridge: %w", err)
		}
		if cfg.Matrix.AccessToken == "" {
			if err := b.Login(ctx, cfg.Matrix.Username, cfg.Matrix.Password); err != nil {
				return fmt.Errorf("matrix login: %w", err)
			}
		}
		matrixBridge = b
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Enabled {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating token verifier: %w", err)
		}
		opts := api.Options{
			Service:     a.service,
			Verifier:    verifier,
			Ledger:      a.ledger,
			MetricsPath: cfg.Metrics.Path,
			BaseContext: ctx,
			Logger:      logger,
		}
		if cfg.Metrics.Enabled {
			opts.Gatherer = a.registry
		}
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.New(opts).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("http api listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if matrixBridge != nil {
		g.Go(func() error {
			return matrixBridge.Run(gctx)
		})
	}

	logger.Info("coven-council running", "version", version)
	err = g.Wait()

	// running tasks must release their leases and record their end before Close
	stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if derr := a.service.Drain(drainCtx); derr != nil {
		logger.Warn("tasks still running at exit", "error", derr)
	}

	if err != nil {
		return err
	}
	logger.Info("coven-council stopped")
	return nil
}
