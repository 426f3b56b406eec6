package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Mail      MailConfig      `mapstructure:"mail"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	BindAddress     string   `mapstructure:"bind_address"`
	MetricsPort     int      `mapstructure:"metrics_port"`
	BaseURL         string   `mapstructure:"base_url"` // public URL, used for OAuth callbacks
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimit       int      `mapstructure:"rate_limit"`
	RateLimitWindow string   `mapstructure:"rate_limit_window"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Path string `mapstructure:"path"`
	Type string `mapstructure:"type"`
	// ActiveBackend selects where active-session claims live. "store"
	// keeps them in the primary backend; "redis" moves them to Redis so
	// claims stay atomic across multiple instances.
	ActiveBackend string      `mapstructure:"active_backend"`
	Redis         RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the Redis connection for active-session claims
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// AuthConfig defines local authentication settings
type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	SessionTimeout  string `mapstructure:"session_timeout"`
	InitialEmail    string `mapstructure:"initial_email"`
	InitialPassword string `mapstructure:"initial_password"`
}

// OAuthConfig defines third-party login providers
type OAuthConfig struct {
	GitHub OAuthProviderConfig `mapstructure:"github"`
	Google OAuthProviderConfig `mapstructure:"google"`
}

// OAuthProviderConfig holds one provider's client credentials
type OAuthProviderConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// MailConfig defines outbound email settings
type MailConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SMTPAddr     string `mapstructure:"smtp_addr"` // host:port; empty logs instead of sending
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
	From         string `mapstructure:"from"`
	PollInterval string `mapstructure:"poll_interval"`
	BatchSize    int    `mapstructure:"batch_size"`
	MaxAttempts  int    `mapstructure:"max_attempts"`
}

// AnalyticsConfig defines report computation settings
type AnalyticsConfig struct {
	Timezone string `mapstructure:"timezone"` // IANA name for calendar bucketing
}

// RetentionConfig defines the daily maintenance schedule
type RetentionConfig struct {
	SessionDays      int    `mapstructure:"session_days"` // 0 keeps sessions forever
	DailyMaintenance string `mapstructure:"daily_maintenance"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("DEVTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.rate_limit_window", "1m")

	// Storage defaults
	v.SetDefault("storage.path", "/var/lib/devtrack/devtrack.bolt")
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.active_backend", "store")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Auth defaults
	v.SetDefault("auth.session_timeout", "24h")
	v.SetDefault("auth.initial_email", "admin@localhost")
	v.SetDefault("auth.initial_password", "changeme")

	// Mail defaults
	v.SetDefault("mail.enabled", true)
	v.SetDefault("mail.from", "devtrack@localhost")
	v.SetDefault("mail.poll_interval", "30s")
	v.SetDefault("mail.batch_size", 10)
	v.SetDefault("mail.max_attempts", 3)

	// Analytics defaults
	v.SetDefault("analytics.timezone", "Local")

	// Retention defaults
	v.SetDefault("retention.session_days", 0)
	v.SetDefault("retention.daily_maintenance", "03:00")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}
	switch cfg.Storage.ActiveBackend {
	case "", "store":
		cfg.Storage.ActiveBackend = "store"
	case "redis":
	default:
		return fmt.Errorf("invalid active_backend: %s (must be store or redis)", cfg.Storage.ActiveBackend)
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	for name, p := range map[string]OAuthProviderConfig{"github": cfg.OAuth.GitHub, "google": cfg.OAuth.Google} {
		if p.Enabled && (p.ClientID == "" || p.ClientSecret == "") {
			return fmt.Errorf("oauth provider %s enabled without client credentials", name)
		}
	}

	// Ensure storage directory exists
	storageDir := filepath.Dir(cfg.Storage.Path)
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	return nil
}
