package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devtrackhq/devtrack/internal/analytics"
	"github.com/devtrackhq/devtrack/internal/config"
	"github.com/devtrackhq/devtrack/internal/mailer"
	"github.com/devtrackhq/devtrack/internal/maintenance"
	"github.com/devtrackhq/devtrack/internal/metrics"
	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/devtrackhq/devtrack/internal/storage/bolt"
	"github.com/devtrackhq/devtrack/internal/storage/redis"
	"github.com/devtrackhq/devtrack/internal/systemd"
	"github.com/devtrackhq/devtrack/internal/tracker"
	"github.com/devtrackhq/devtrack/internal/web"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start DevTrack server",
	Long:  `Start the DevTrack server with the JSON API, background mailer, daily maintenance, and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting DevTrack")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Active-session claims can live in Redis so concurrent instances
	// agree on the single-session rule.
	var activeStore storage.ActiveSessionStore
	if cfg.Storage.ActiveBackend == "redis" {
		redisStore, err := redis.Open(cfg.Storage.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close redis")
			}
		}()
		activeStore = redisStore

		logger.Info().
			Str("host", cfg.Storage.Redis.Host).
			Int("port", cfg.Storage.Redis.Port).
			Msg("Active sessions backed by Redis")
	}

	// Initialize session tracker
	trk := tracker.New(store, activeStore, nil, logger)
	logger.Info().Msg("Session tracker initialized")

	// The running-sessions gauge reads from whichever backend holds the
	// claims.
	activeSessions := activeStore
	if activeSessions == nil {
		activeSessions = store.ActiveSessions()
	}
	metrics.RegisterActiveSessions(func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := activeSessions.Count(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to count active sessions")
			return 0
		}
		return float64(n)
	})

	// Initialize analytics reporter
	loc, err := time.LoadLocation(cfg.Analytics.Timezone)
	if err != nil {
		return fmt.Errorf("invalid analytics timezone %q: %w", cfg.Analytics.Timezone, err)
	}
	reporter, err := analytics.NewReporter(store, nil, loc, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize analytics reporter: %w", err)
	}

	logger.Info().Str("timezone", cfg.Analytics.Timezone).Msg("Analytics reporter initialized")

	// Initialize mailer
	var mail *mailer.Mailer
	if cfg.Mail.Enabled {
		mail, err = mailer.New(store.Mail(), cfg.Mail, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize mailer: %w", err)
		}
		mail.Start()
		logger.Info().Str("smtp_addr", cfg.Mail.SMTPAddr).Msg("Mailer started")
	}

	// Initialize web server
	webServer := web.NewServer(web.Config{
		ListenAddr:      fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port),
		BaseURL:         cfg.Server.BaseURL,
		JWTSecret:       cfg.Auth.JWTSecret,
		TokenExpiration: parseDuration(cfg.Auth.SessionTimeout, 24*time.Hour),
		RateLimit:       cfg.Server.RateLimit,
		RateLimitWindow: parseDuration(cfg.Server.RateLimitWindow, time.Minute),
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, cfg.OAuth, store, trk, reporter, mail, logger)

	// Initialize maintenance scheduler
	sched, err := maintenance.NewScheduler(
		store.Users(),
		store.Sessions(),
		webServer.Auth(),
		cfg.Retention.DailyMaintenance,
		cfg.Retention.SessionDays,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize maintenance scheduler: %w", err)
	}
	sched.Start()

	// Create the bootstrap account on first run
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = web.EnsureInitialUser(ctx, store.Users(), cfg.Auth.InitialEmail, cfg.Auth.InitialPassword, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to ensure initial user: %w", err)
	}

	// Use systemd socket-activated listeners if available
	if sdListeners.Activated && sdListeners.API != nil {
		webServer.SetListener(sdListeners.API)
	}

	if err := webServer.Start(); err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}

	logger.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)).
		Msg("Web server started")

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics server started")

	// Log startup complete
	logger.Info().Msg("DevTrack startup complete")
	logger.Info().Msgf("API: http://%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or on-demand maintenance)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	// Signal handling loop
	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			logger.Info().Msg("SIGHUP received, running maintenance now...")
			sched.Run()
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		}

		// Only reached on shutdown signals
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop servers
	sched.Stop()

	if mail != nil {
		mail.Stop()
	}

	if err := webServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping web server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("DevTrack stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (only 'bolt' is supported)", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
