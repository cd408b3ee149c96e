// Package config provides configuration management for the flexops service.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Twilio     TwilioConfig     `mapstructure:"twilio"`
	Auto       AutoConfig       `mapstructure:"auto"`
	Flex       FlexConfig       `mapstructure:"flex"`
	Automation AutomationConfig `mapstructure:"automation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds persistence configuration.
// The default driver is sqlite with a local file; postgres is selected by
// setting driver=postgres and a DSN.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite | postgres
	Path     string `mapstructure:"path"`   // sqlite database file
	DSN      string `mapstructure:"dsn"`    // postgres connection string
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// TwilioConfig holds messaging-provider credentials.
type TwilioConfig struct {
	AccountSid   string `mapstructure:"accountSid"`
	AuthToken    string `mapstructure:"authToken"`
	PhoneNumber  string `mapstructure:"phoneNumber"`
	WorkspaceSid string `mapstructure:"workspaceSid"`
}

// Configured reports whether credentials are present. The orchestrator
// treats an unconfigured provider as a warn-once no-op, not an error.
func (t *TwilioConfig) Configured() bool {
	return t.AccountSid != "" && t.AuthToken != ""
}

// AutoConfig drives the reconciliation loop.
type AutoConfig struct {
	Enabled        string `mapstructure:"enabled"`
	PollIntervalMs int    `mapstructure:"pollIntervalMs"`
	BatchSize      int    `mapstructure:"batchSize"`
	Source         string `mapstructure:"source"` // internal | flex | auto
}

// IsEnabled reports whether the loop should run. Only the literal string
// "false" disables it; any other value, including empty, leaves it on.
func (a *AutoConfig) IsEnabled() bool {
	return a.Enabled != "false"
}

// PollInterval returns the tick period as a time.Duration.
func (a *AutoConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMs) * time.Millisecond
}

// FlexConfig drives the provider-managed task pipeline.
type FlexConfig struct {
	PollLimit         int    `mapstructure:"pollLimit"`
	CloseConversation string `mapstructure:"closeConversation"`
	CompleteTask      string `mapstructure:"completeTask"`
}

// ShouldCloseConversation reports whether the conversation is closed on
// inactivity. Literal "false" disables, same rule as AutoConfig.IsEnabled.
func (f *FlexConfig) ShouldCloseConversation() bool {
	return f.CloseConversation != "false"
}

// ShouldCompleteTask reports whether the provider task is completed on
// inactivity.
func (f *FlexConfig) ShouldCompleteTask() bool {
	return f.CompleteTask != "false"
}

// AutomationConfig names the automation author used when classifying
// webhook message authors.
type AutomationConfig struct {
	Author string `mapstructure:"author"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("TASKS_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./flexops.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "flexops")
	v.SetDefault("nats.maxReconnects", 10)

	// Twilio defaults - unset credentials put the orchestrator in
	// warn-once no-op mode rather than failing startup
	v.SetDefault("twilio.accountSid", "")
	v.SetDefault("twilio.authToken", "")
	v.SetDefault("twilio.phoneNumber", "")
	v.SetDefault("twilio.workspaceSid", "")

	// Reconciliation loop defaults
	v.SetDefault("auto.enabled", "true")
	v.SetDefault("auto.pollIntervalMs", 1000)
	v.SetDefault("auto.batchSize", 100)
	v.SetDefault("auto.source", "auto")

	// Flex pipeline defaults
	v.SetDefault("flex.pollLimit", 50)
	v.SetDefault("flex.closeConversation", "true")
	v.SetDefault("flex.completeTask", "true")

	// Automation author
	v.SetDefault("automation.author", "System")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix TASKS_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/flexops/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("TASKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("auto.pollIntervalMs", "TASKS_AUTO_POLL_INTERVAL_MS")
	_ = v.BindEnv("auto.batchSize", "TASKS_AUTO_BATCH_SIZE")
	_ = v.BindEnv("flex.pollLimit", "TASKS_FLEX_POLL_LIMIT")
	_ = v.BindEnv("flex.closeConversation", "TASKS_FLEX_CLOSE_CONVERSATION")
	_ = v.BindEnv("flex.completeTask", "TASKS_FLEX_COMPLETE_TASK")
	_ = v.BindEnv("automation.author", "TASKS_AUTOMATION_AUTHOR")
	_ = v.BindEnv("database.driver", "TASKS_DB_DRIVER", "TASKS_DATABASE_DRIVER")
	_ = v.BindEnv("database.path", "TASKS_DB_PATH", "TASKS_DATABASE_PATH")
	_ = v.BindEnv("database.dsn", "TASKS_DB_DSN", "TASKS_DATABASE_DSN")
	_ = v.BindEnv("server.port", "TASKS_SERVER_PORT", "PORT")
	_ = v.BindEnv("logging.level", "TASKS_LOGGING_LEVEL")
	_ = v.BindEnv("logging.format", "TASKS_LOGGING_FORMAT")

	// Provider credentials keep their vendor-standard names
	_ = v.BindEnv("twilio.accountSid", "TWILIO_ACCOUNT_SID")
	_ = v.BindEnv("twilio.authToken", "TWILIO_AUTH_TOKEN")
	_ = v.BindEnv("twilio.phoneNumber", "TWILIO_PHONE_NUMBER")
	_ = v.BindEnv("twilio.workspaceSid", "TWILIO_WORKSPACE_SID")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/flexops/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// Provider credentials are deliberately not required: the orchestrator
// degrades to warn-once no-ops without them.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	switch cfg.Auto.Source {
	case "internal", "flex", "auto":
	default:
		errs = append(errs, "auto.source must be one of: internal, flex, auto")
	}
	if cfg.Auto.PollIntervalMs <= 0 {
		errs = append(errs, "auto.pollIntervalMs must be positive")
	}
	if cfg.Auto.BatchSize <= 0 {
		errs = append(errs, "auto.batchSize must be positive")
	}
	if cfg.Flex.PollLimit <= 0 {
		errs = append(errs, "flex.pollLimit must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
