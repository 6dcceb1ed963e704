// Package config provides configuration management using the Singleton pattern.
// It loads configuration from environment variables and config.yaml using Viper.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/hpn/hpn-g-adapter/internal/domain"
)

// Configuration holds all application configuration values.
type Configuration struct {
	// Server configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Engine tunables
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Providers are the declaratively configured upstreams.
	Providers []domain.ProviderDescriptor `json:"providers" mapstructure:"providers"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// file is the config file that was read, empty when none was found.
	file string
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	// Host is the server bind address.
	Host string `json:"host" mapstructure:"host"`

	// Port is the server port number.
	Port int `json:"port" mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeoutSeconds int `json:"read_timeout_seconds" mapstructure:"read_timeout_seconds"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// It must exceed the upstream timeout or slow providers get cut off.
	WriteTimeoutSeconds int `json:"write_timeout_seconds" mapstructure:"write_timeout_seconds"`

	// ShutdownTimeout is the maximum duration to wait for active connections to finish.
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" mapstructure:"shutdown_timeout_seconds"`
}

// EngineConfig tunes the adapter engine and token manager.
type EngineConfig struct {
	// UpstreamTimeoutSeconds bounds each provider call. 0 means no timeout.
	UpstreamTimeoutSeconds int `json:"upstream_timeout_seconds" mapstructure:"upstream_timeout_seconds"`

	// MaxReplyBytes caps how much of a provider reply is read.
	MaxReplyBytes int64 `json:"max_reply_bytes" mapstructure:"max_reply_bytes"`

	// BodyPreviewBytes caps the reply preview kept on upstream errors.
	BodyPreviewBytes int `json:"body_preview_bytes" mapstructure:"body_preview_bytes"`

	// TokenTTLMinutes is the token lifetime used when a login reply carries none.
	TokenTTLMinutes int `json:"token_ttl_minutes" mapstructure:"token_ttl_minutes"`

	// TokenFile persists tokens across restarts. Empty disables persistence.
	TokenFile string `json:"token_file" mapstructure:"token_file"`

	// TokenCleanupSeconds is how often expired tokens are swept from memory.
	TokenCleanupSeconds int `json:"token_cleanup_seconds" mapstructure:"token_cleanup_seconds"`

	// WatchConfig reloads providers when the config file changes.
	WatchConfig bool `json:"watch_config" mapstructure:"watch_config"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `json:"level" mapstructure:"level"`

	// Format is the log format (json, text).
	Format string `json:"format" mapstructure:"format"`

	// OutputPath is the file path for log output (empty for stdout).
	OutputPath string `json:"output_path" mapstructure:"output_path"`

	// Console enables the colored console lines.
	Console bool `json:"console" mapstructure:"console"`
}

// configInstance holds the singleton configuration instance.
var (
	configInstance *Configuration
	configOnce     sync.Once
	configErr      error
)

// GetConfig returns the singleton Configuration instance.
// It initializes the configuration on first call using the default config path.
// Returns an error if configuration loading fails.
func GetConfig() (*Configuration, error) {
	configOnce.Do(func() {
		configInstance, configErr = loadConfig("")
	})
	return configInstance, configErr
}

// GetConfigWithPath returns the singleton Configuration instance with a custom config path.
// This should be used when you need to specify a non-default configuration file path.
// Returns an error if configuration loading fails.
func GetConfigWithPath(configPath string) (*Configuration, error) {
	configOnce.Do(func() {
		configInstance, configErr = loadConfig(configPath)
	})
	return configInstance, configErr
}

// MustGetConfig returns the singleton Configuration instance.
// It panics if the configuration cannot be loaded.
func MustGetConfig() *Configuration {
	cfg, err := GetConfig()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// ResetConfig resets the singleton instance.
// This is primarily used for testing purposes.
func ResetConfig() {
	configOnce = sync.Once{}
	configInstance = nil
	configErr = nil
}

// Load reads configuration without touching the singleton. Reloads use it.
func Load(configPath string) (*Configuration, error) {
	return loadConfig(configPath)
}

// File returns the config file that was read, or "" when defaults and
// environment variables were used alone.
func (c *Configuration) File() string { return c.file }

// Validate validates the configuration and returns an error if required fields are missing.
func (c *Configuration) Validate() error {
	var validationErrors []string

	// Validate server configuration
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		validationErrors = append(validationErrors, "server.port must be between 1 and 65535")
	}

	// Validate engine configuration
	if c.Engine.UpstreamTimeoutSeconds < 0 {
		validationErrors = append(validationErrors, "engine.upstream_timeout_seconds cannot be negative")
	}
	if c.Engine.MaxReplyBytes <= 0 {
		validationErrors = append(validationErrors, "engine.max_reply_bytes must be positive")
	}
	if c.Engine.BodyPreviewBytes < 0 {
		validationErrors = append(validationErrors, "engine.body_preview_bytes cannot be negative")
	}
	if c.Engine.TokenTTLMinutes <= 0 {
		validationErrors = append(validationErrors, "engine.token_ttl_minutes must be positive")
	}

	// Validate each provider
	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		for _, problem := range p.Validate() {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d]: %s", i, problem))
		}
		if p.ID != "" {
			if seen[p.ID] {
				validationErrors = append(validationErrors, fmt.Sprintf("providers[%d]: duplicate id %q", i, p.ID))
			}
			seen[p.ID] = true
		}
	}

	// Validate logging configuration
	if c.Logging.Level != "" && !isValidLogLevel(c.Logging.Level) {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"logging.level '%s' is invalid, must be one of: debug, info, warn, error",
			c.Logging.Level,
		))
	}

	if len(validationErrors) > 0 {
		return &ValidationError{Errors: validationErrors}
	}

	return nil
}

// isValidLogLevel checks if the log level is valid.
func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// UpstreamTimeout returns the per-call provider timeout, 0 for none.
func (c *Configuration) UpstreamTimeout() time.Duration {
	return time.Duration(c.Engine.UpstreamTimeoutSeconds) * time.Second
}

// TokenTTL returns the fallback token lifetime.
func (c *Configuration) TokenTTL() time.Duration {
	return time.Duration(c.Engine.TokenTTLMinutes) * time.Minute
}

// TokenCleanupInterval returns how often the token cache is swept.
func (c *Configuration) TokenCleanupInterval() time.Duration {
	return time.Duration(c.Engine.TokenCleanupSeconds) * time.Second
}

// ActiveProviders returns the providers switched on by the operator.
func (c *Configuration) ActiveProviders() []domain.ProviderDescriptor {
	active := make([]domain.ProviderDescriptor, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active
}

// GetProvider returns a provider by its id.
func (c *Configuration) GetProvider(id string) (*domain.ProviderDescriptor, bool) {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i], true
		}
	}
	return nil, false
}
