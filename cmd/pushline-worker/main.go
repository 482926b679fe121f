package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/nkkko/pushline/internal/config"
	"github.com/nkkko/pushline/internal/logging"
	"github.com/nkkko/pushline/internal/notifier"
	"github.com/nkkko/pushline/internal/supervisor"
	"github.com/nkkko/pushline/internal/telemetry"
	"github.com/nkkko/pushline/internal/worker"
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
		renderer   string
		flags      config.FlagOverrides
	)
	flag.StringVar(&configFile, "config", "", "path to a YAML config file")
	flag.StringVar(&flags.Endpoint, "endpoint", "", "relay hub URL (default http://localhost:8080/BroadcastHub)")
	flag.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.StringVar(&renderer, "renderer", "console", "where notifications are shown: console or log")
	flag.Parse()

	cfg, err := config.LoadConfig(configFile, flags)
	if err != nil {
		return err
	}

	if err := logging.Setup(cfg.ToLoggingConfig()); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telShutdown, err := telemetry.Setup(ctx, cfg.ToTelemetryConfig())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
	} else {
		defer telShutdown(context.Background())
	}

	var r notifier.Renderer
	switch renderer {
	case "console":
		r = notifier.NewConsoleRenderer(os.Stdout)
	case "log":
		r = notifier.NewLogRenderer(logging.Component("notification"))
	default:
		return fmt.Errorf("unknown renderer %q", renderer)
	}

	n := notifier.NewNotifier(r, nil)
	host := worker.NewHost(
		cfg.ToWorkerConfig(),
		supervisor.HubConnectionFactory(cfg.ToClientOptions()...),
		n,
		nil,
	)

	// launching the process stands in for the boot-completed start
	if err := host.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("Caught signal, stopping worker")
	host.Stop()

	return nil
}
