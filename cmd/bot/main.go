// Package main runs the wallet tracker Telegram bot: wallet analysis on
// demand and live transaction alerts for tracked addresses.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"solana-wallet-tracker/internal/bot"
	"solana-wallet-tracker/internal/config"
	"solana-wallet-tracker/internal/dedup"
	"solana-wallet-tracker/internal/ledger"
	"solana-wallet-tracker/internal/logging"
	"solana-wallet-tracker/internal/notify"
	"solana-wallet-tracker/internal/server"
	"solana-wallet-tracker/internal/solana"
	"solana-wallet-tracker/internal/tracking"
)

const shutdownTimeout = 30 * time.Second

func main() {
	envFile := flag.String("env-file", ".env", "Path to .env file (optional)")
	logLevel := flag.String("log-level", "", "Log level override (trace, debug, info, warn, error)")
	backend := flag.String("store", "", "Store backend override (memory, jsonfile, postgres, mongo)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}

	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("bot stopped with error")
	}
	logger.Info().Msg("shutdown complete")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeQuietly(logger, "store", func() error { return store.Close(context.Background()) })

	deliveries, closeDeliveries, err := openDeliveryLog(ctx, cfg.ClickHouseDSN, logger)
	if err != nil {
		return err
	}
	defer closeQuietly(logger, "delivery log", closeDeliveries)

	rpc := solana.NewHTTPClient(cfg.RPC.HTTPEndpoint, solana.WithTimeout(cfg.RPC.Timeout))

	wsCfg := solana.DefaultWSConfig()
	wsCfg.Logger = logging.Component(logger, "solana-ws")
	ws, err := solana.NewWSClient(ctx, cfg.RPC.WSEndpoint, &wsCfg)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer closeQuietly(logger, "websocket", ws.Close)

	ledgerClient := ledger.NewClient(rpc, ws, ledger.Options{Logger: logger})

	filter := dedup.NewFilter(store, dedup.Options{Capacity: cfg.SeenCacheSize, Logger: logger})
	if _, err := filter.Warm(ctx, cfg.SeenCacheSize); err != nil {
		logger.Warn().Err(err).Msg("dedup warm-up failed, continuing with an empty cache")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("connect telegram: %w", err)
	}
	logger.Info().Str("username", api.Self.UserName).Msg("authorized on telegram")

	var sink notify.Sink = notify.NewTelegramSink(api)
	if cfg.Kafka.Enabled() {
		kafkaSink := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer closeQuietly(logger, "kafka", kafkaSink.Close)
		sink = &notify.MultiSink{
			Primary: sink,
			Mirrors: []notify.Sink{kafkaSink},
			Logger:  logging.Component(logger, "notify"),
		}
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka mirror enabled")
	}

	tracker := tracking.NewManager(tracking.ManagerOptions{
		Ledger:     ledgerClient,
		Dedup:      filter,
		Users:      store,
		Sink:       sink,
		Deliveries: deliveries,
		Logger:     logger,
	})

	if _, err := tracker.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("some tracked wallets could not be restored")
	}

	dispatcher := bot.New(bot.Options{
		API:        api,
		Analyzer:   ledgerClient,
		Tracker:    tracker,
		Users:      store,
		Deliveries: deliveries,
		Network:    networkLabel(cfg.Network),
		Logger:     logger,
	})

	webhookPath := "/bot" + cfg.BotToken
	srv := server.New(server.Options{
		Dispatcher:  dispatcher,
		WebhookPath: webhookPath,
		Logger:      logger,
	})

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Listen(fmt.Sprintf(":%d", cfg.Port))
	}()

	if cfg.WebhookURL != "" {
		if err := setWebhook(api, cfg.WebhookURL+webhookPath); err != nil {
			return err
		}
		logger.Info().Str("url", cfg.WebhookURL+"/bot<token>").Msg("listening for webhooks")
	} else {
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn().Err(err).Msg("delete webhook failed")
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := api.GetUpdatesChan(u)
		go dispatcher.Run(ctx, updates)
		logger.Info().Msg("long polling for updates")
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	api.StopReceivingUpdates()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	dispatcher.Wait()

	if err := tracker.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("close tracking")
	}
	if err := ledgerClient.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("close ledger")
	}
	return nil
}

func setWebhook(api *tgbotapi.BotAPI, url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

func networkLabel(network string) string {
	if network == config.NetworkMainnet {
		return "Mainnet"
	}
	return "Devnet"
}

func closeQuietly(logger zerolog.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		logger.Warn().Err(err).Str("resource", what).Msg("close failed")
	}
}
