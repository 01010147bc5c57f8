package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/postflowhq/postflow-be/internal/config"
	"github.com/postflowhq/postflow-be/internal/notify"
	"github.com/postflowhq/postflow-be/internal/scheduler"
	"github.com/postflowhq/postflow-be/shared/logger"
	"github.com/postflowhq/postflow-be/shared/postgresql"
	"github.com/postflowhq/postflow-be/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("SCHEDULER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/scheduler-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateSchedulerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting scheduler service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("cron_spec", cfg.Scheduler.CronSpec),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	activity := notify.NewAMQPLogger(rabbitClient, appLogger.Logger)
	svc := scheduler.NewService(dbClient.GetDB(), activity, scheduler.Options{
		SettingsTTL:    cfg.Scheduler.SettingsTTL,
		PublishTimeout: cfg.Scheduler.PublishTimeout,
	}, appLogger.Logger)

	// Root context governs in-flight runs; cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Skip ticks that fire while the previous run is still going. A run
	// that overshoots its interval must not stack a second claim pass on
	// top of itself.
	var running sync.Mutex
	runPass := func() {
		if !running.TryLock() {
			appLogger.Warn("Previous scheduler run still in progress, skipping tick")
			return
		}
		defer running.Unlock()

		report, err := svc.Runner.Run(ctx, scheduler.RunOptions{
			Limit:       cfg.Scheduler.ClaimLimit,
			Concurrency: cfg.Scheduler.Concurrency,
		})
		if err != nil {
			appLogger.Error("Scheduler run failed",
				slog.Any("error", err),
			)
			return
		}

		if report.Processed > 0 {
			appLogger.Info("Scheduler run finished",
				slog.Int("processed", report.Processed),
				slog.Int("successful", report.Successful),
				slog.Int("failed", report.Failed),
				slog.Int("skipped", report.Skipped),
			)
		}
	}

	c := cron.New()

	if _, err := c.AddFunc(cfg.Scheduler.CronSpec, runPass); err != nil {
		return fmt.Errorf("failed to register scheduler cron entry: %w", err)
	}

	if cfg.Scheduler.CleanupCronSpec != "" {
		if _, err := c.AddFunc(cfg.Scheduler.CleanupCronSpec, func() {
			removed := svc.Cache.Cleanup()
			if removed > 0 {
				appLogger.Debug("Settings cache cleanup",
					slog.Int("removed", removed),
				)
			}
		}); err != nil {
			return fmt.Errorf("failed to register cleanup cron entry: %w", err)
		}
	}

	c.Start()

	appLogger.Info("Scheduler service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	// Stop scheduling new ticks, then let the in-flight run drain
	cronCtx := c.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case <-cronCtx.Done():
		appLogger.Info("Scheduler stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Scheduler shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Scheduler service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
