package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mmair/config"
	"mmair/log"
	"mmair/services"

	"go.uber.org/zap"
)

var once = flag.Bool("once", false, "Run a single sweep, print the result as JSON and exit")

func main() {
	flag.Parse()

	// Initialize timezone to Asia/Bangkok
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		panic("Failed to load Asia/Bangkok timezone: " + err.Error())
	}
	time.Local = loc

	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	log.SetLevel(cfg.LogLevel)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services
	backend := services.NewBackendClient(logger, cfg.APIBaseURL, cfg.APIToken, cfg.APITimeout)

	var notifier services.Notifier = services.UnconfiguredNotifier{}
	if cfg.SMTPHost != "" {
		notifier, err = services.NewMailer(services.MailerConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUser,
			Password:  cfg.SMTPPassword,
			From:      cfg.SMTPFrom,
			TLSPolicy: cfg.SMTPTLSPolicy,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize mail gateway", zap.Error(err))
		}
	} else {
		logger.Warn("SMTP_HOST not set, alert e-mails will be recorded as send errors")
	}

	opts := []services.SweeperOption{
		services.WithDedupGuard(newDedupGuard(ctx, cfg, logger)),
		services.WithReporters(services.NewLogReporter(logger)),
	}

	var telegram *services.TelegramReporter
	if cfg.TelegramBotToken != "" {
		telegram, err = services.NewTelegramReporter(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Warn("Telegram reporter disabled", zap.Error(err))
		} else {
			opts = append(opts, services.WithReporters(telegram))
		}
	}

	var history *services.FirebaseHistory
	if cfg.FirebaseDbUrl != "" && cfg.FirebaseServiceAccountJSON != "" {
		history, err = services.NewFirebaseHistory(ctx, cfg.FirebaseDbUrl, cfg.FirebaseServiceAccountJSON, logger)
		if err != nil {
			logger.Warn("Sweep history disabled", zap.Error(err))
		} else {
			defer history.Close()
			opts = append(opts, services.WithReporters(history))
		}
	}

	publisher := newEventPublisher(cfg, logger)
	defer publisher.Close()
	if publisher.Len() > 0 {
		opts = append(opts, services.WithEventPublisher(publisher))
	}

	sweeper := services.NewSweeper(
		backend,
		notifier,
		services.NewThresholdEvaluator(cfg.DefaultDustThreshold),
		services.SweeperConfig{
			DedupWindow:         cfg.DedupWindow,
			Concurrency:         cfg.SweepConcurrency,
			Timeout:             cfg.SweepTimeout,
			SkipInactiveDevices: cfg.SkipInactiveDevices,
		},
		logger,
		opts...,
	)

	if *once {
		result, err := sweeper.Run(ctx)
		if err != nil {
			logger.Fatal("Dust sweep failed", zap.Error(err))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Fatal("Failed to encode sweep result", zap.Error(err))
		}
		return
	}

	scheduler := services.NewScheduler(sweeper, cfg.SweepInterval, logger)

	var historyStore services.HistoryStore
	if history != nil {
		historyStore = history
	}
	admin := services.NewAdminHandler(ctx, sweeper, scheduler, historyStore, cfg.AdminAPIKey, logger)
	server := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      admin.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.SweepTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Admin API listening", zap.String("addr", cfg.AdminAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin API stopped", zap.Error(err))
		}
	}()

	if cfg.MonitorEnabled() {
		scheduler.Start(ctx)
		if telegram != nil {
			if err := telegram.SendStartupMessage(cfg.SweepInterval, cfg.DedupWindow); err != nil {
				logger.Warn("Failed to send startup message", zap.Error(err))
			}
		}
	} else {
		logger.Info("Dust monitor not started automatically",
			zap.String("app_env", cfg.AppEnv))
	}

	logger.Info("MM-Air Dust Monitor Service started",
		zap.String("app_env", cfg.AppEnv),
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Duration("dedup_window", cfg.DedupWindow),
		zap.Float64("default_dust_threshold", cfg.DefaultDustThreshold),
		zap.Int("sweep_concurrency", cfg.SweepConcurrency),
		zap.Int("event_sinks", publisher.Len()),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin API shutdown error", zap.Error(err))
	}

	cancel()
	scheduler.Stop()

	logger.Info("MM-Air Dust Monitor Service stopped")
}

// newDedupGuard prefers Redis so replicas share marks, and falls back to memory.
func newDedupGuard(ctx context.Context, cfg *config.Config, logger *zap.Logger) services.DedupGuard {
	if cfg.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		guard, err := services.NewRedisGuard(pingCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.DedupWindow)
		if err == nil {
			logger.Info("Redis dedup guard initialized", zap.String("addr", cfg.RedisAddr))
			return guard
		}
		logger.Warn("Redis dedup guard unavailable, using memory guard", zap.Error(err))
	}
	return services.NewMemoryGuard(cfg.DedupWindow)
}

func newEventPublisher(cfg *config.Config, logger *zap.Logger) *services.MultiPublisher {
	var sinks []services.EventPublisher

	if cfg.RabbitMQURL != "" {
		rabbit, err := services.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.RabbitMQRoutingKey, logger)
		if err != nil {
			logger.Warn("RabbitMQ publisher disabled", zap.Error(err))
		} else {
			sinks = append(sinks, rabbit)
		}
	}

	if cfg.MQTTBroker != "" {
		mq, err := services.NewMQTTPublisher(services.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTAlertTopic,
		}, logger)
		if err != nil {
			logger.Warn("MQTT publisher disabled", zap.Error(err))
		} else {
			sinks = append(sinks, mq)
		}
	}

	return services.NewMultiPublisher(logger, sinks...)
}
