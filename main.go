package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"raspadinha-platform/config"
	"raspadinha-platform/internal/api"
	"raspadinha-platform/internal/commission"
	"raspadinha-platform/internal/database"
	"raspadinha-platform/internal/events"
	"raspadinha-platform/internal/vault"
	"raspadinha-platform/internal/wallet"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := newLogger(cfg.LoggingConfig)
	logger.Info().Msg("Structured logging initialized")

	// Initialize event bus
	eventBus := events.NewEventBus()
	logger.Info().Msg("Event bus initialized")

	// Vault holds the database credentials in production deployments
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		log.Fatalf("Failed to create vault client: %v", err)
	}
	if vaultClient.IsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		creds, err := vaultClient.GetDatabaseCredentials(ctx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to read database credentials from vault: %v", err)
		}
		cfg.DatabaseConfig.User = creds.Username
		cfg.DatabaseConfig.Password = creds.Password
		logger.Info().Msg("Database credentials loaded from vault")
	}

	// Initialize database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run database migrations and seed the tier table
	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	if err := db.SeedTierConfig(ctx); err != nil {
		log.Fatalf("Failed to seed tier config: %v", err)
	}

	repo := database.NewRepository(db)

	// Redis dedup cache is optional, the database index is the real guard
	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("Redis unreachable, running without dedup cache")
			redisClient = nil
		} else {
			logger.Info().Str("address", cfg.RedisConfig.Address).Msg("Redis dedup cache connected")
		}
	}
	dedup := database.NewRedisEventDedup(redisClient, cfg.CommissionConfig.DedupTTLHours)

	// Services
	commissionSvc := commission.NewService(repo, dedup, eventBus, cfg.CommissionConfig, logger)
	walletSvc := wallet.NewService(repo, eventBus, cfg.WithdrawalConfig, logger)
	reconciler := wallet.NewReconciler(repo, eventBus, cfg.ReconciliationConfig.BatchSize, logger)

	// Operator alerting: money anomalies surface as ERROR logs regardless of
	// which component raised them
	registerAlertSubscribers(eventBus, logger)

	// HTTP server
	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
		ProductionMode: cfg.ServerConfig.ProductionMode,
	}, repo, commissionSvc, walletSvc, reconciler, eventBus)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start web server: %v", err)
		}
	}()
	logger.Info().Int("port", cfg.ServerConfig.Port).Msg("HTTP server started")

	// Periodic reconciliation sweep, which also applies earned tier upgrades
	var scheduler *wallet.Scheduler
	if cfg.ReconciliationConfig.Enabled {
		scheduler = wallet.NewScheduler(reconciler, repo, eventBus, &wallet.SchedulerConfig{
			Interval:     cfg.ReconciliationConfig.Interval(),
			SweepTimeout: 10 * time.Minute,
		})
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start reconciliation scheduler: %v", err)
		}
	}

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerConfig.ShutdownTimeoutDuration())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down web server: %v", err)
	}
	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			log.Printf("Error stopping reconciliation scheduler: %v", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing redis client: %v", err)
		}
	}

	log.Println("Shutdown complete")
}

// newLogger builds the root zerolog logger from config
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}

	var logger zerolog.Logger
	if cfg.JSONFormat {
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// registerAlertSubscribers wires the events an operator must see onto the
// error log
func registerAlertSubscribers(eventBus *events.EventBus, logger zerolog.Logger) {
	alertLog := logger.With().Str("component", "Alerts").Logger()

	eventBus.Subscribe(events.EventCommissionPartialFailure, func(e events.Event) {
		alertLog.Error().Interface("data", e.Data).
			Msg("commission partially credited, conversions pending until retry")
	})
	eventBus.Subscribe(events.EventWalletDriftDetected, func(e events.Event) {
		alertLog.Error().Interface("data", e.Data).
			Msg("wallet balance drifted from transaction log")
	})
	eventBus.Subscribe(events.EventWithdrawalFailed, func(e events.Event) {
		alertLog.Warn().Interface("data", e.Data).
			Msg("withdrawal failed, funds returned to wallet")
	})
	eventBus.Subscribe(events.EventError, func(e events.Event) {
		alertLog.Error().Interface("data", e.Data).Msg("component error")
	})
}
