// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail bridge.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	// Domain is the mail domain served by both listeners.
	Domain  string        `yaml:"domain"`
	IMAP    IMAPConfig    `yaml:"imap"`
	SMTP    SMTPConfig    `yaml:"smtp"`
	Store   StoreConfig   `yaml:"store"`
	Relay   RelayConfig   `yaml:"relay"`
	TLS     TLSConfig     `yaml:"tls"`
	Logging LoggingConfig `yaml:"logging"`
	Users   []UserConfig  `yaml:"users"`
}

// IMAPConfig holds IMAP server configuration.
type IMAPConfig struct {
	Listen string `yaml:"listen"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen string `yaml:"listen"`
	// ImplicitTLS wraps the SMTP listener in TLS instead of offering STARTTLS.
	ImplicitTLS bool `yaml:"implicit_tls"`
}

// StoreConfig holds the inbound message store configuration. An empty
// bucket selects the in-memory store, intended for local development.
type StoreConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// RelayConfig holds the outbound relay configuration. Provider is one of
// "ses", "store", or "stdout"; empty means auto-detect.
type RelayConfig struct {
	Provider        string `yaml:"provider"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// Disabled turns TLS off entirely on both listeners.
	Disabled bool `yaml:"disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// UserConfig provisions one mail user at startup.
type UserConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// S3Backed reports whether the inbound store is S3-backed. Without a
// bucket the in-memory store is used.
func (c *Config) S3Backed() bool {
	return c.Store.Bucket != ""
}

// ResolveRelayProvider returns the effective relay provider. When none is
// configured, an S3-backed deployment relays through SES and a local one
// writes back into the store.
func (c *Config) ResolveRelayProvider() string {
	if c.Relay.Provider != "" {
		return c.Relay.Provider
	}
	if c.S3Backed() {
		return "ses"
	}
	return "store"
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.IMAP.Listen = ":1143"
	c.SMTP.Listen = ":2525"
	c.Store.Prefix = "incoming/"
	c.Store.Region = "us-east-1"
	c.Relay.Region = "us-east-1"
	c.Logging.Level = "info"
	c.Domain = "localhost"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("IMAP_LISTEN"); v != "" {
		c.IMAP.Listen = v
	}
	if v := os.Getenv("SMTP_LISTEN"); v != "" {
		c.SMTP.Listen = v
	}
	if v := os.Getenv("MAIL_DOMAIN"); v != "" {
		c.Domain = v
	}

	if v := os.Getenv("EMAIL_BUCKET"); v != "" {
		c.Store.Bucket = v
	}
	if v := os.Getenv("EMAIL_PREFIX"); v != "" {
		c.Store.Prefix = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Store.Region = v
		c.Relay.Region = v
	}

	if v := os.Getenv("RELAY_PROVIDER"); v != "" {
		c.Relay.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
