package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mnemo-agent/mnemo/internal/api"
	"github.com/mnemo-agent/mnemo/internal/config"
	"github.com/mnemo-agent/mnemo/internal/transport/telegram"
	"github.com/mnemo-agent/mnemo/pkg/log"
	"github.com/mnemo-agent/mnemo/pkg/srv"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Mnemo services",
	Long:  `Initializes and starts the configured front ends (API server, Telegram) and background workers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		// logger setup
		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		logger := log.FromCtx(ctx)
		logger.Info().Msg("starting mnemo")

		d := buildDeps(ctx)

		services := append([]srv.Service{}, d.cleanups...)

		if d.appCfg.EnableAPI {
			services = append(services, api.NewServer(ctx, d.appCfg, d.agent, d.tracker))
		}
		if d.appCfg.EnableTelegram {
			tgCfg := config.NewTelegramConfig(ctx)
			bot, err := telegram.NewBot(ctx, tgCfg, d.agent)
			if err != nil {
				logger.Fatal().Err(err).Msg("failed to initialize telegram bot")
			}
			services = append(services, bot)
		}
		if !d.appCfg.EnableAPI && !d.appCfg.EnableTelegram {
			logger.Warn().Msg("no front end enabled, set MNEMO_ENABLE_API or MNEMO_ENABLE_TELEGRAM")
		}

		// Start services
		srv.StartServices(ctx, services)

		// Wait for shutdown signal
		srv.ShutdownServices(ctx, services)

		// Let in-flight background maintenance finish before closing the db.
		d.pool.Wait()
		logger.Info().Msg("mnemo has been shut down gracefully")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
