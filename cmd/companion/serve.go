package main

import (
	"os"
	"os/signal"
	"syscall"

	"companion-service/internal/delivery"
	"companion-service/internal/handler"
	"companion-service/internal/push"
	"companion-service/internal/server"
	"companion-service/internal/telegram_bot"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the optional Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("Starting companion service...")

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			comps, err := buildComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Close()

			hub := push.NewHub(logger)
			fanout := push.NewFanout(hub, push.NewLogChannel(logger))
			registry := delivery.NewRegistry(fanout, delivery.RegistryOptions{
				Policy: cfg.Delivery.SupersedePolicy,
			}, logger)
			defer registry.Shutdown()

			processor, err := newProcessor(cfg, comps, registry, logger)
			if err != nil {
				return err
			}

			bot, err := telegram_bot.NewBot(telegram_bot.Config{
				Enabled:       cfg.Telegram.Enabled,
				BotToken:      cfg.Telegram.BotToken,
				QueueSize:     cfg.Telegram.QueueSize,
				CompanionName: cfg.Generation.CompanionName,
			}, processor, registry, logger)
			if err != nil {
				logger.Warn("Failed to initialize Telegram bot, continuing without it", zap.Error(err))
				bot = nil
			}
			if bot != nil {
				fanout.Add(bot.Channel())
				go func() {
					if err := bot.Start(ctx); err != nil {
						logger.Error("Telegram bot failed", zap.Error(err))
					}
				}()
			}

			go registry.Run(ctx, cfg.Delivery.SweepInterval, cfg.Delivery.IdleTTL)

			api := handler.NewHandler(processor, comps.profiles, registry, hub, comps.generator, logger)
			srv := server.NewServer(cfg.Server, server.NewAccessLogger(cfg.Logging.Level), logger, api)

			if err := srv.Run(ctx); err != nil {
				return err
			}

			logger.Info("Companion service stopped.")
			return nil
		},
	}
}
