package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kiquetal/go-jwk-provider/internal/config"
	"github.com/kiquetal/go-jwk-provider/internal/provider"
	"github.com/kiquetal/go-jwk-provider/internal/server"
)

type CLI struct {
	Config string `help:"Path to the configuration file." env:"CONFIG_PATH" default:"config.yaml" type:"path"`

	Serve ServeCmd `cmd:"" default:"1" help:"Serve key lookups over HTTP."`
	Get   GetCmd   `cmd:"" help:"Resolve one key and print it as JSON."`
}

type ServeCmd struct{}

func (c *ServeCmd) Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	manager, err := provider.NewManagerFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build key providers: %w", err)
	}

	srv := server.New(cfg.Server, manager, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("Service stopped")
	return nil
}

type GetCmd struct {
	IDP string `arg:"" help:"Name of a configured IdP."`
	Kid string `arg:"" help:"Key ID to resolve."`
}

func (c *GetCmd) Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	manager, err := provider.NewManagerFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build key providers: %w", err)
	}

	key, err := manager.GetKey(ctx, c.IDP, c.Kid)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(key.JWK())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	cliCtx := kong.Parse(&cli,
		kong.Name("jwk-provider"),
		kong.Description("Resolve JWKs by kid through a cached, rate-limited provider per IdP."),
	)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		cliCtx.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger; get keeps stdout for its JSON output
	logger := config.InitLogger(cfg.Logging)
	if cliCtx.Selected() != nil && cliCtx.Selected().Name == "get" {
		logger = config.NewLogger(os.Stderr, cfg.Logging)
	}
	logger.Info("Starting JWK provider", "command", cliCtx.Command(), "idps", len(cfg.IDPs))

	cliCtx.BindTo(ctx, (*context.Context)(nil))
	cliCtx.Bind(cfg, logger)

	if err := cliCtx.Run(); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
