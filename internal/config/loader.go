package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hpn/hpn-g-adapter/internal/domain"
)

const (
	defaultConfigName = "config"
	defaultConfigType = "yaml"
	envPrefix         = "HPN_ADAPTER"
)

// placeholder matches ${NAME} secret references in provider fields.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// loadConfig loads the configuration from environment variables and files.
// Priority order (highest to lowest):
// 1. Environment variables (prefixed with HPN_ADAPTER_)
// 2. config.yaml
// 3. Default values
func loadConfig(configPath string) (*Configuration, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure Viper
	v.SetConfigName(defaultConfigName)
	v.SetConfigType(defaultConfigType)

	// Add config search paths
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hpn-g-adapter")
		v.AddConfigPath("$HOME/.hpn-g-adapter")
	}

	// Enable environment variable override
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && configPath == "" {
			fmt.Fprintf(os.Stderr, "[CONFIG] Config file not found, no providers configured\n")
		} else {
			return nil, &ConfigError{
				Op:  "read",
				Err: fmt.Errorf("failed to read config file: %w", err),
			}
		}
	}

	// Unmarshal configuration
	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{
			Op:  "unmarshal",
			Err: fmt.Errorf("failed to unmarshal config: %w", err),
		}
	}
	cfg.file = v.ConfigFileUsed()

	if err := restoreCredentialKeys(&cfg); err != nil {
		return nil, &ConfigError{Op: "read", Err: err}
	}

	for i := range cfg.Providers {
		if err := expandProvider(&cfg.Providers[i]); err != nil {
			return nil, &ConfigError{Op: "expand", Err: err}
		}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 120)
	v.SetDefault("server.shutdown_timeout_seconds", 15)

	// Engine defaults
	v.SetDefault("engine.upstream_timeout_seconds", 90)
	v.SetDefault("engine.max_reply_bytes", 32<<20)
	v.SetDefault("engine.body_preview_bytes", 512)
	v.SetDefault("engine.token_ttl_minutes", 23*60)
	v.SetDefault("engine.token_file", "")
	v.SetDefault("engine.token_cleanup_seconds", 60)
	v.SetDefault("engine.watch_config", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "")
	v.SetDefault("logging.console", true)
}

// restoreCredentialKeys re-reads auth credentials straight from the YAML file.
// Viper lower-cases map keys, and login endpoints often expect camelCase.
func restoreCredentialKeys(cfg *Configuration) error {
	switch strings.ToLower(filepath.Ext(cfg.file)) {
	case ".yaml", ".yml":
	default:
		return nil
	}

	raw, err := os.ReadFile(cfg.file)
	if err != nil {
		return err
	}
	var doc struct {
		Providers []struct {
			ID   string `yaml:"id"`
			Auth *struct {
				Credentials map[string]any `yaml:"credentials"`
			} `yaml:"auth"`
		} `yaml:"providers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse providers: %w", err)
	}

	for _, p := range doc.Providers {
		if p.Auth == nil || p.Auth.Credentials == nil {
			continue
		}
		if d, ok := cfg.GetProvider(p.ID); ok && d.Auth != nil {
			d.Auth.Credentials = p.Auth.Credentials
		}
	}
	return nil
}

// expandProvider replaces ${NAME} placeholders in the template, login
// endpoint and credential strings with environment values.
func expandProvider(p *domain.ProviderDescriptor) error {
	var err error
	if p.RequestTemplate, err = expandString(p.ID, p.RequestTemplate); err != nil {
		return err
	}
	if p.Auth == nil {
		return nil
	}
	if p.Auth.LoginEndpoint, err = expandString(p.ID, p.Auth.LoginEndpoint); err != nil {
		return err
	}
	for k, v := range p.Auth.Credentials {
		if p.Auth.Credentials[k], err = expandValue(p.ID, v); err != nil {
			return err
		}
	}
	return nil
}

func expandValue(id string, v any) (any, error) {
	switch t := v.(type) {
	case string:
		return expandString(id, t)
	case map[string]any:
		for k, inner := range t {
			expanded, err := expandValue(id, inner)
			if err != nil {
				return nil, err
			}
			t[k] = expanded
		}
		return t, nil
	case []any:
		for i, inner := range t {
			expanded, err := expandValue(id, inner)
			if err != nil {
				return nil, err
			}
			t[i] = expanded
		}
		return t, nil
	default:
		return v, nil
	}
}

func expandString(id, s string) (string, error) {
	var missing string
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		val, ok := os.LookupEnv(name)
		if !ok && missing == "" {
			missing = name
		}
		return val
	})
	if missing != "" {
		return "", &MissingEnvError{Provider: id, Name: missing}
	}
	return out, nil
}
