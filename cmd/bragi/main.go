/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/bragi/internal/auth"
	"github.com/friendsincode/bragi/internal/config"
	"github.com/friendsincode/bragi/internal/logbuffer"
	"github.com/friendsincode/bragi/internal/logging"
	"github.com/friendsincode/bragi/internal/server"
	"github.com/friendsincode/bragi/internal/telemetry"
	"github.com/friendsincode/bragi/internal/version"
	"github.com/friendsincode/bragi/internal/zonecfg"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bragi",
	Short: "Bragi - Multiroom audio server",
	Long:  "Bragi is a multiroom audio server that streams synchronized audio to heterogeneous renderers across zones.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Bragi server",
	Long:  "Start the HTTP API, protocol listeners and zone playback engine",
	RunE:  runServe,
}

var (
	tokenName  string
	tokenRoles []string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API access token",
	Long:  "Issue a JWT signed with the configured signing key for controllers and admin tools",
	RunE:  runToken,
}

var zonesValidateCmd = &cobra.Command{
	Use:   "zones-validate [path]",
	Short: "Validate a zone configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runZonesValidate,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenName, "name", "cli", "subject name embedded in the token")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{auth.RoleController}, "roles to grant (admin, controller)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(zonesValidateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	// Capture logs in a ring buffer so the admin API can serve them.
	logBuf := logbuffer.New(10000)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf, nil))

	logger.Info().Msg("Bragi starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "bragi",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(cfg, logger, logBuf)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr()).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Bragi stopped")
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	for _, role := range tokenRoles {
		if role != auth.RoleAdmin && role != auth.RoleController {
			return fmt.Errorf("unknown role %q", role)
		}
	}

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{
		Name:  tokenName,
		Roles: tokenRoles,
	}, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runZonesValidate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	path := cfg.ZoneConfig
	if len(args) == 1 {
		path = args[0]
	}

	file, err := zonecfg.Load(path)
	if err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}

	fmt.Printf("%s: %d zone(s) ok\n", path, len(file.Zones))
	return nil
}
