package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/relaychat/internal/app"
	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "relaychat",
		Short:         "Multi-client channel chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, configPath)
		},
	}

	defaults := config.Default()
	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to config file (default ./config.yaml)")
	flags.Int("port", 8080, "TCP port to listen on (shorthand for --addr :PORT)")
	flags.String("addr", defaults.Addr, "chat listen address")
	flags.String("http-addr", defaults.HTTPAddr, "ops HTTP listen address, empty disables it")
	flags.Bool("debug", false, "log every session event")
	flags.Duration("idle-timeout", defaults.IdleTimeout, "shut down after this long without activity, 0 disables")
	flags.String("db", defaults.DatabasePath, "sqlite session journal path, empty disables it")
	flags.Int("max-sessions", defaults.MaxSessions, "maximum concurrent sessions, 0 means unlimited")
	flags.Int("workers", defaults.Workers, "number of command workers")

	return cmd
}

func run(cmd *cobra.Command, configPath string) error {
	bootLog := log.New("info")

	cfg, path, err := config.Load(bootLog, configPath, cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return err
	}

	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("config", path).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}

	logger.Info().
		Str("addr", application.Addr().String()).
		Dur("idle_timeout", cfg.IdleTimeout).
		Int("max_sessions", cfg.MaxSessions).
		Msg("starting relaychat server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
