package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"proxysync/internal/crossproxy"
)

// SyncConfig is the subset needed to talk to the cluster bus.
type SyncConfig struct {
	Enabled       bool          `env:"SYNC_ENABLED" default:"true"`
	RedisURL      string        `env:"REDIS_URL" default:"redis://localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	Secret        string        `env:"SYNC_SECRET"`
	Backend       string        `env:"SYNC_BACKEND" default:"redis"`
	MQTTBrokerURL string        `env:"MQTT_BROKER_URL" default:"tcp://localhost:1883"`
	DialTimeout   time.Duration `env:"SYNC_DIAL_TIMEOUT" default:"5s"`
	QueueSize     int           `env:"SYNC_QUEUE_SIZE" default:"1024"`
	ReconnectMin  time.Duration `env:"SYNC_RECONNECT_MIN" default:"500ms"`
	ReconnectMax  time.Duration `env:"SYNC_RECONNECT_MAX" default:"30s"`
	PresenceTTL   time.Duration `env:"PRESENCE_TTL" default:"0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

type Config struct {
	// Environment
	GoEnv    string `env:"GO_ENV" default:"development"`
	ServerID string `env:"SERVER_ID"`

	// Service Ports
	HTTPPort int `env:"HTTP_PORT" default:"8080"`
	TCPPort  int `env:"TCP_PORT" default:"8081"`

	Sync SyncConfig

	// Session handling
	AllowDuplicateSessions bool     `env:"ALLOW_DUPLICATE_SESSIONS" default:"false"`
	BackendServers         []string `env:"BACKEND_SERVERS" default:"lobby"`
	DefaultServer          string   `env:"DEFAULT_SERVER" default:"lobby"`
	KickDefaultReason      string   `env:"KICK_DEFAULT_REASON"`
	DuplicateSessionReason string   `env:"DUPLICATE_SESSION_REASON"`
	TeamChatPermission     string   `env:"TEAM_CHAT_PERMISSION" default:"proxysync.teamchat"`

	// Authentication
	JWTSecret      string `env:"JWT_SECRET" required:"true"`
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET"`

	// Audit log, disabled when empty
	DatabaseURL string `env:"DATABASE_URL"`
}

func loadDotEnv() error {
	// a missing .env is fine, the process environment still applies
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.ServerID, "SERVER_ID", "proxy-"+uuid.NewString()); err != nil {
		return nil, err
	}

	// Ports
	if err := loadEnvInt(&config.HTTPPort, "HTTP_PORT", 8080); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TCPPort, "TCP_PORT", 8081); err != nil {
		return nil, err
	}

	if err := loadSync(&config.Sync); err != nil {
		return nil, err
	}

	// Sessions
	if err := loadEnvBool(&config.AllowDuplicateSessions, "ALLOW_DUPLICATE_SESSIONS", false); err != nil {
		return nil, err
	}
	if err := loadEnvStringSlice(&config.BackendServers, "BACKEND_SERVERS", []string{"lobby"}); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DefaultServer, "DEFAULT_SERVER", "lobby"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.KickDefaultReason, "KICK_DEFAULT_REASON", crossproxy.DefaultKickReason); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DuplicateSessionReason, "DUPLICATE_SESSION_REASON", crossproxy.DefaultDuplicateSessionReason); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.TeamChatPermission, "TEAM_CHAT_PERMISSION", crossproxy.DefaultTeamChatPermission); err != nil {
		return nil, err
	}

	// Authentication
	if err := loadEnvStringRequired(&config.JWTSecret, "JWT_SECRET"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AdminJWTSecret, "ADMIN_JWT_SECRET", ""); err != nil {
		return nil, err
	}

	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadSyncConfig loads only what an operator tool needs to reach the bus.
func LoadSyncConfig() (*SyncConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	sc := &SyncConfig{}
	if err := loadSync(sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func loadSync(sc *SyncConfig) error {
	if err := loadEnvBool(&sc.Enabled, "SYNC_ENABLED", true); err != nil {
		return err
	}
	if err := loadEnvString(&sc.RedisURL, "REDIS_URL", "redis://localhost:6379"); err != nil {
		return err
	}
	if err := loadEnvString(&sc.RedisPassword, "REDIS_PASSWORD", ""); err != nil {
		return err
	}
	// never defaulted: without it the feature stays off
	if err := loadEnvString(&sc.Secret, "SYNC_SECRET", ""); err != nil {
		return err
	}
	if err := loadEnvString(&sc.Backend, "SYNC_BACKEND", crossproxy.BackendRedis); err != nil {
		return err
	}
	if err := loadEnvString(&sc.MQTTBrokerURL, "MQTT_BROKER_URL", "tcp://localhost:1883"); err != nil {
		return err
	}
	if err := loadEnvDuration(&sc.DialTimeout, "SYNC_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return err
	}
	if err := loadEnvInt(&sc.QueueSize, "SYNC_QUEUE_SIZE", 1024); err != nil {
		return err
	}
	if err := loadEnvDuration(&sc.ReconnectMin, "SYNC_RECONNECT_MIN", 500*time.Millisecond); err != nil {
		return err
	}
	if err := loadEnvDuration(&sc.ReconnectMax, "SYNC_RECONNECT_MAX", 30*time.Second); err != nil {
		return err
	}
	if err := loadEnvDuration(&sc.PresenceTTL, "PRESENCE_TTL", 0); err != nil {
		return err
	}

	// Logging
	if err := loadEnvString(&sc.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return err
	}
	if err := loadEnvString(&sc.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return err
	}
	return nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringRequired(target *string, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return fmt.Errorf("required environment variable %s is not set", key)
	}
	*target = value
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) error {
	if value := os.Getenv(key); value != "" {
		var items []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				items = append(items, v)
			}
		}
		*target = items
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	// Validate ports are in valid range
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errors = append(errors, "HTTP_PORT must be between 1 and 65535")
	}
	if c.TCPPort < 1 || c.TCPPort > 65535 {
		errors = append(errors, "TCP_PORT must be between 1 and 65535")
	}
	if c.HTTPPort == c.TCPPort {
		errors = append(errors, "HTTP_PORT and TCP_PORT must differ")
	}

	if strings.TrimSpace(c.ServerID) == "" {
		errors = append(errors, "SERVER_ID must not be blank")
	}

	if len(c.BackendServers) == 0 {
		errors = append(errors, "BACKEND_SERVERS must list at least one server")
	} else if !contains(c.BackendServers, c.DefaultServer) {
		errors = append(errors, fmt.Sprintf("DEFAULT_SERVER %q is not in BACKEND_SERVERS", c.DefaultServer))
	}

	errors = append(errors, c.Sync.problems()...)

	// Validate JWT secret length (should be at least 32 characters for security)
	if len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET should be at least 32 characters long")
	}
	if c.AdminJWTSecret != "" && len(c.AdminJWTSecret) < 32 {
		errors = append(errors, "ADMIN_JWT_SECRET should be at least 32 characters long")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// Validate checks the bus subset on its own.
func (sc *SyncConfig) Validate() error {
	if problems := sc.problems(); len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// problems covers value ranges only. A missing SYNC_SECRET is not listed:
// it turns the feature off at start-up instead of stopping the process.
func (sc *SyncConfig) problems() []string {
	var errors []string

	validBackends := []string{crossproxy.BackendRedis, crossproxy.BackendMQTT}
	if !contains(validBackends, sc.Backend) {
		errors = append(errors, fmt.Sprintf("SYNC_BACKEND must be one of: %s", strings.Join(validBackends, ", ")))
	}
	if sc.QueueSize < 1 {
		errors = append(errors, "SYNC_QUEUE_SIZE must be positive")
	}
	if sc.DialTimeout <= 0 {
		errors = append(errors, "SYNC_DIAL_TIMEOUT must be positive")
	}
	if sc.ReconnectMin <= 0 || sc.ReconnectMax < sc.ReconnectMin {
		errors = append(errors, "SYNC_RECONNECT_MIN must be positive and not above SYNC_RECONNECT_MAX")
	}
	if sc.PresenceTTL < 0 {
		errors = append(errors, "PRESENCE_TTL must not be negative")
	}

	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, sc.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	// Validate log format
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, sc.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}
	return errors
}

// ClientOptions maps the bus settings onto the transport client.
func (sc *SyncConfig) ClientOptions(identity string) crossproxy.Options {
	return crossproxy.Options{
		Enabled:       sc.Enabled,
		RedisURL:      sc.RedisURL,
		RedisPassword: sc.RedisPassword,
		Secret:        sc.Secret,
		Identity:      identity,
		Backend:       sc.Backend,
		MQTTBrokerURL: sc.MQTTBrokerURL,
		DialTimeout:   sc.DialTimeout,
		QueueSize:     sc.QueueSize,
		ReconnectMin:  sc.ReconnectMin,
		ReconnectMax:  sc.ReconnectMax,
		PresenceTTL:   sc.PresenceTTL,
	}
}

// ServiceOptions builds the cross-proxy feature settings for this instance.
func (c *Config) ServiceOptions() crossproxy.ServiceOptions {
	return crossproxy.ServiceOptions{
		Client: c.Sync.ClientOptions(c.ServerID),
		Handlers: crossproxy.HandlerOptions{
			AllowDuplicateSessions: c.AllowDuplicateSessions,
			KickDefaultReason:      c.KickDefaultReason,
			DuplicateSessionReason: c.DuplicateSessionReason,
			TeamChatPermission:     c.TeamChatPermission,
		},
	}
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// AdminAPIEnabled reports whether the operator HTTP API should be served.
func (c *Config) AdminAPIEnabled() bool {
	return c.AdminJWTSecret != ""
}

// AuditEnabled reports whether handled actions are written to Postgres.
func (c *Config) AuditEnabled() bool {
	return c.DatabaseURL != ""
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
