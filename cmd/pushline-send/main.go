package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/nkkko/pushline/internal/config"
	"github.com/nkkko/pushline/internal/logging"
	"github.com/nkkko/pushline/internal/sender"
	"github.com/nkkko/pushline/pkg/client"
)

func main() {
	if err := run(); err != nil {
		// the session has already reported a failed connect
		if !errors.Is(err, sender.ErrConnect) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig("", config.FlagOverrides{})
	if err != nil {
		return err
	}

	logCfg := cfg.ToLoggingConfig()
	if os.Getenv("PUSHLINE_LOG_LEVEL") == "" {
		// keep the prompt readable
		logCfg.Level = logging.LevelWarn
	}
	if err := logging.Setup(logCfg); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	pub, err := client.New(cfg.Worker.Endpoint, cfg.ToClientOptions()...)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	return sender.New(pub, rl, rl.Stdout()).Run(ctx)
}
