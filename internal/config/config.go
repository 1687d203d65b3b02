package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version  string         `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Vault    VaultConfig    `yaml:"vault"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	Enabled  bool       `yaml:"enabled"`
	BasePath string     `yaml:"base_path"`
	Auth     AuthConfig `yaml:"auth"`
}

// AuthConfig contains authentication configuration.
type AuthConfig struct {
	Enabled        bool     `yaml:"enabled"`
	APIKeys        []string `yaml:"api_keys"`
	HeaderName     string   `yaml:"header_name"`
	DispatchSecret string   `yaml:"dispatch_secret"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// VaultConfig contains credential vault configuration.
type VaultConfig struct {
	// EncryptionKey is the hex-encoded 32-byte key used to seal stored tokens.
	EncryptionKey string `yaml:"encryption_key"`
	// TokenURL is the OAuth token endpoint used for refresh grants.
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	// RefreshMargin is how long before expiry a token is treated as stale.
	RefreshMargin time.Duration `yaml:"refresh_margin"`
}

// IngestConfig contains ingestion pipeline configuration.
type IngestConfig struct {
	// PageSize is the number of messages fetched per provider page.
	PageSize int `yaml:"page_size"`
	// SweepInterval is the time between scheduled poll sweeps.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// SweepBudget is the wall-clock budget for a single sweep.
	SweepBudget time.Duration `yaml:"sweep_budget"`
	// RelaySigningKey verifies inbound email relay signatures.
	RelaySigningKey string        `yaml:"relay_signing_key"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
}

// TelegramConfig contains Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if err := c.Vault.Validate(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("host is required")
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.LogFormat == "" {
		s.LogFormat = "json"
	}
	return nil
}

// Validate validates API configuration.
func (a *APIConfig) Validate() error {
	if a.BasePath == "" {
		a.BasePath = "/api/v1"
	}
	if a.Auth.Enabled && len(a.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth: api_keys is required when auth is enabled")
	}
	if a.Auth.HeaderName == "" {
		a.Auth.HeaderName = "X-API-Key"
	}
	return nil
}

// Validate validates storage configuration.
func (s *StorageConfig) Validate() error {
	if s.Path == "" {
		s.Path = "caseflow.db"
	}
	return nil
}

// Validate validates vault configuration and applies defaults.
func (v *VaultConfig) Validate() error {
	if v.EncryptionKey == "" {
		return fmt.Errorf("encryption_key is required")
	}
	if v.TokenURL == "" {
		v.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if v.RefreshMargin <= 0 {
		v.RefreshMargin = 60 * time.Second
	}
	return nil
}

// Validate validates ingest configuration and applies defaults.
func (i *IngestConfig) Validate() error {
	if i.PageSize <= 0 {
		i.PageSize = 100
	}
	if i.PageSize > 500 {
		i.PageSize = 500
	}
	if i.SweepInterval <= 0 {
		i.SweepInterval = 2 * time.Minute
	}
	if i.SweepBudget <= 0 {
		i.SweepBudget = 55 * time.Second
	}
	if i.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	if i.RetryAttempts == 0 {
		i.RetryAttempts = 3
	}
	if i.RetryBackoff <= 0 {
		i.RetryBackoff = 500 * time.Millisecond
	}
	if i.ProviderTimeout <= 0 {
		i.ProviderTimeout = 30 * time.Second
	}
	return nil
}

// Validate validates Telegram configuration.
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.BotToken == "" {
		return fmt.Errorf("bot_token is required when telegram is enabled")
	}
	if t.ChatID == 0 {
		return fmt.Errorf("chat_id is required when telegram is enabled")
	}
	return nil
}
