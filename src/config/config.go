package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"queue-sync/src/models"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix scopes environment overrides, e.g. QUEUESYNC_BACKEND_TOKEN.
const EnvPrefix = "QUEUESYNC"

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	return Parse(data)
}

// -----------------------------------------------------------------------------

// Parse builds a validated Config from YAML bytes, defaults and environment.
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.ApplyDefaults()

	if err := config.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills zero values with working defaults
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "queue-sync"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8765
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 15
	}
	if c.Reconnect.InitialDelayMs == 0 {
		c.Reconnect.InitialDelayMs = 1000
	}
	if c.Reconnect.MaxDelayMs == 0 {
		c.Reconnect.MaxDelayMs = 30000
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = 5
	}
	if c.Reconnect.HandshakeTimeoutMs == 0 {
		c.Reconnect.HandshakeTimeoutMs = 10000
	}
	if c.Reconnect.ReadTimeoutMs == 0 {
		c.Reconnect.ReadTimeoutMs = 60000
	}
	if c.Storage.DBType == "" {
		c.Storage.DBType = "sqlite"
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		c.Storage.DBPath = "queue-sync.db"
	}
	if c.Cache.Type == "" {
		c.Cache.Type = "memory"
	}
	if c.Cache.PreviewTTLSeconds == 0 {
		c.Cache.PreviewTTLSeconds = 30
	}
	if c.Refresh.PerMinute == 0 {
		c.Refresh.PerMinute = 6
	}
	if c.Refresh.Burst == 0 {
		c.Refresh.Burst = 2
	}
}

// -----------------------------------------------------------------------------

// ApplyEnv overlays QUEUESYNC_* environment variables on top of the file.
func (c *Config) ApplyEnv() error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	strs := map[string]*string{
		"log_level":                    &c.LogLevel,
		"timezone":                     &c.Timezone,
		"host":                         &c.Host,
		"backend.api_base_url":         &c.Backend.APIBaseURL,
		"backend.ws_base_url":          &c.Backend.WSBaseURL,
		"backend.business_id":          &c.Backend.BusinessID,
		"backend.token":                &c.Backend.Token,
		"storage.db_type":              &c.Storage.DBType,
		"storage.db_path":              &c.Storage.DBPath,
		"storage.db_connection_string": &c.Storage.DBConnectionString,
		"cache.type":                   &c.Cache.Type,
		"cache.redis_addr":             &c.Cache.RedisAddr,
		"cache.redis_password":         &c.Cache.RedisPassword,
	}
	ints := map[string]*int{
		"port":                       &c.Port,
		"grpc_port":                  &c.GrpcPort,
		"backend.timeout":            &c.Backend.Timeout,
		"backend.retries":            &c.Backend.MaxRetries,
		"reconnect.initial_delay_ms": &c.Reconnect.InitialDelayMs,
		"reconnect.max_delay_ms":     &c.Reconnect.MaxDelayMs,
		"reconnect.max_attempts":     &c.Reconnect.MaxAttempts,
		"cache.redis_db":             &c.Cache.RedisDB,
		"cache.preview_ttl_seconds":  &c.Cache.PreviewTTLSeconds,
	}

	for key, dst := range strs {
		if err := v.BindEnv(key); err != nil {
			return err
		}
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	for key, dst := range ints {
		if err := v.BindEnv(key); err != nil {
			return err
		}
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort < 0 || c.GrpcPort > 65535 {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}

	// Backend
	if c.Backend.BusinessID == "" {
		return fmt.Errorf("backend business_id cannot be empty")
	}
	if err := validateURL(c.Backend.APIBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("backend api_base_url: %w", err)
	}
	if err := validateURL(c.Backend.WSBaseURL, "ws", "wss"); err != nil {
		return fmt.Errorf("backend ws_base_url: %w", err)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	// Reconnect
	if c.Reconnect.InitialDelayMs <= 0 {
		return fmt.Errorf("reconnect initial delay must be greater than 0")
	}
	if c.Reconnect.MaxDelayMs < c.Reconnect.InitialDelayMs {
		return fmt.Errorf("reconnect max delay must be >= initial delay")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect max attempts must be greater than 0")
	}

	// Storage
	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("database connection string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Storage.DBType)
	}

	// Cache
	switch c.Cache.Type {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty for redis cache")
		}
	default:
		return fmt.Errorf("unsupported cache type: %s", c.Cache.Type)
	}
	if c.Cache.PreviewTTLSeconds < 0 {
		return fmt.Errorf("preview ttl cannot be negative")
	}

	if c.Refresh.PerMinute <= 0 || c.Refresh.Burst <= 0 {
		return fmt.Errorf("refresh rate and burst must be greater than 0")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}

// -----------------------------------------------------------------------------

// Location returns the time zone used to decide whether a date is past.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// -----------------------------------------------------------------------------

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in '%s'", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %v, got '%s'", schemes, u.Scheme)
}
