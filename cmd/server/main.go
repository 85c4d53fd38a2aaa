package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/betairc-server/internal/app"
	"github.com/vovakirdan/betairc-server/internal/config"
	"github.com/vovakirdan/betairc-server/internal/log"
)

func main() {
	var (
		configPath string
		addr       string
		httpAddr   string
		logLevel   string
		admins     []string
	)

	rootCmd := &cobra.Command{
		Use:          "betairc-server",
		Short:        "BetaIRC chat server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLogger := log.New(logLevel)

			cfg, path, err := config.Load(bootLogger, configPath)
			if err != nil {
				return err
			}

			// Flags override the config file.
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("admin") {
				cfg.Admins = admins
			}

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting betairc server")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(ctx); err != nil {
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.Flags().StringVar(&addr, "addr", "", "TCP listen address")
	rootCmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringSliceVarP(&admins, "admin", "a", nil, "admin nicknames")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
