// Package config provides configuration management for the notification client.
//
// Configuration is loaded from:
// 1. .env file in the working directory (optional)
// 2. config.yaml file (optional)
// 3. Environment variables (PUSH_URL, API_BASE_URL, LOG_LEVEL, ...)
// 4. Default values
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	API    APIConfig    `mapstructure:"api"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Push   PushConfig   `mapstructure:"push"`
	Store  StoreConfig  `mapstructure:"store"`
	Alert  AlertConfig  `mapstructure:"alert"`
	Log    LogConfig    `mapstructure:"log"`
	Worker WorkerConfig `mapstructure:"worker"`
	UI     UIConfig     `mapstructure:"ui"`
}

// APIConfig describes the REST notification endpoints.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Path       string        `mapstructure:"path"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	// MutationMethod is the verb used for mark-read and mark-all-read (PUT or POST).
	MutationMethod string `mapstructure:"mutation_method"`
}

// AuthConfig says where the bearer token comes from.
// An explicit token wins; otherwise the OS keyring is consulted.
type AuthConfig struct {
	Token          string `mapstructure:"token"`
	KeyringService string `mapstructure:"keyring_service"`
	KeyringKey     string `mapstructure:"keyring_key"`
}

// PushConfig contains the push channel and reconnection tunables.
type PushConfig struct {
	URL       string        `mapstructure:"url"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	// HeartbeatGrace is added to the negotiated heart-beat interval before
	// a silent broker counts as lost.
	HeartbeatGrace time.Duration `mapstructure:"heartbeat_grace"`
	// HandshakeTimeout bounds the WebSocket upgrade plus the STOMP
	// CONNECT/CONNECTED exchange.
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `mapstructure:"max_reconnect_delay"`
	BackoffFactor        float64       `mapstructure:"backoff_factor"`
	Jitter               float64       `mapstructure:"jitter"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	// PrivateDestination may contain {userId}, replaced at subscribe time.
	PrivateDestination   string        `mapstructure:"private_destination"`
	BroadcastDestination string        `mapstructure:"broadcast_destination"`
	UnsubscribeTimeout   time.Duration `mapstructure:"unsubscribe_timeout"`
}

// StoreConfig contains in-memory store settings.
type StoreConfig struct {
	RecentWindow int `mapstructure:"recent_window"`
}

// AlertConfig controls transient toasts.
type AlertConfig struct {
	ToastDuration time.Duration `mapstructure:"toast_duration"`
	RatePerSecond float64       `mapstructure:"rate_per_second"` // 0 disables throttling
	Burst         int           `mapstructure:"burst"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	// File receives logs while the terminal UI owns the screen.
	File string `mapstructure:"file"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	PushPoolSize    int `mapstructure:"push_pool_size"`
}

// UIConfig selects the presentation front end.
type UIConfig struct {
	Headless bool `mapstructure:"headless"`
}

// NotificationsURL returns the absolute base URL of the notification endpoints.
func (c APIConfig) NotificationsURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.Path, "/")
}

// Load reads configuration from .env, config file and environment variables.
// Nested keys map to env vars with "." replaced by "_": push.url → PUSH_URL.
func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence over it.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/campusdesk")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url is not a valid URL: %w", err)
	}
	pushURL, err := url.Parse(c.Push.URL)
	if err != nil {
		return fmt.Errorf("push.url is not a valid URL: %w", err)
	}
	if pushURL.Scheme != "ws" && pushURL.Scheme != "wss" {
		return fmt.Errorf("push.url scheme must be ws or wss, got %q", pushURL.Scheme)
	}
	switch strings.ToUpper(c.API.MutationMethod) {
	case "PUT", "POST":
	default:
		return fmt.Errorf("api.mutation_method must be PUT or POST, got %q", c.API.MutationMethod)
	}
	if c.Push.MaxReconnectAttempts < 1 {
		return fmt.Errorf("push.max_reconnect_attempts must be at least 1")
	}
	if c.Push.ReconnectDelay <= 0 {
		return fmt.Errorf("push.reconnect_delay must be positive")
	}
	if c.Push.HandshakeTimeout <= 0 {
		return fmt.Errorf("push.handshake_timeout must be positive")
	}
	if c.Push.BackoffFactor < 1 {
		return fmt.Errorf("push.backoff_factor must be >= 1")
	}
	if c.Push.Jitter < 0 {
		return fmt.Errorf("push.jitter must not be negative")
	}
	if c.Push.PrivateDestination == "" || c.Push.BroadcastDestination == "" {
		return fmt.Errorf("push destinations must not be empty")
	}
	if c.Store.RecentWindow < 1 {
		return fmt.Errorf("store.recent_window must be at least 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// REST API
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.path", "/api/notifications")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.mutation_method", "PUT")

	// Auth
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.keyring_service", "campusdesk")
	v.SetDefault("auth.keyring_key", "bearer_token")

	// Push channel
	v.SetDefault("push.url", "ws://localhost:8080/ws")
	v.SetDefault("push.heartbeat", "4s")
	v.SetDefault("push.heartbeat_grace", "5s")
	v.SetDefault("push.handshake_timeout", "10s")
	v.SetDefault("push.reconnect_delay", "5s")
	v.SetDefault("push.max_reconnect_delay", "1m")
	v.SetDefault("push.backoff_factor", 2.0)
	v.SetDefault("push.jitter", 0.5)
	v.SetDefault("push.max_reconnect_attempts", 5)
	v.SetDefault("push.private_destination", "/user/{userId}/queue/notifications")
	v.SetDefault("push.broadcast_destination", "/topic/notifications")
	v.SetDefault("push.unsubscribe_timeout", "2s")

	// Store
	v.SetDefault("store.recent_window", 10)

	// Alerts
	v.SetDefault("alert.toast_duration", "5s")
	v.SetDefault("alert.rate_per_second", 0.0)
	v.SetDefault("alert.burst", 3)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "campusdesk-bell.log")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 16)
	v.SetDefault("worker.push_pool_size", 8)

	v.SetDefault("ui.headless", false)
}
