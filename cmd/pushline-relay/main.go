package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/nkkko/pushline/internal/config"
	"github.com/nkkko/pushline/internal/engine"
	"github.com/nkkko/pushline/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		flags      config.FlagOverrides
	)
	flag.StringVar(&configFile, "config", "", "path to a YAML config file")
	flag.StringVar(&flags.ServerAddr, "addr", "", "listen address (default :8080)")
	flag.StringVar(&flags.Transport, "transport", "", "HTTP transport: chi or fiber")
	flag.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.LoadConfig(configFile, flags)
	if err != nil {
		return err
	}

	if err := logging.Setup(cfg.ToLoggingConfig()); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	e, err := engine.CreateEngine(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := e.Start(ctx)
	if runErr == nil {
		log.Info().Msg("Caught signal, initiating shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil && runErr == nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return runErr
}
