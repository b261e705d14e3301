// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail dispatcher.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider selector values.
const (
	ProviderSMTP    = "smtp"
	ProviderEmailJS = "emailjs"
)

// Mail transport values for the non-REST path.
const (
	TransportSMTP = "smtp"
	TransportSES  = "ses"
)

const (
	defaultSMTPHost       = "localhost"
	defaultSMTPPort       = 587
	defaultEmailJSAPIURL  = "https://api.emailjs.com/api/v1.0/email/send"
	defaultTestAccountURL = "https://api.nodemailer.com/user"
)

// Config holds the complete application configuration.
type Config struct {
	// Provider selects the delivery strategy. "emailjs" routes to the REST
	// API; any other value routes to the mail transport.
	Provider string `yaml:"provider"`

	// CI switches the SMTP strategy to disposable test credentials.
	CI bool `yaml:"ci"`

	SMTP    SMTPConfig    `yaml:"smtp"`
	EmailJS EmailJSConfig `yaml:"emailjs"`
	SES     SESConfig     `yaml:"ses"`
	Logging LoggingConfig `yaml:"logging"`
}

// SMTPConfig holds mail transport configuration.
type SMTPConfig struct {
	Transport          string `yaml:"transport"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Pass               string `yaml:"pass"`
	From               string `yaml:"from"`
	Secure             bool   `yaml:"secure"`
	RequireTLS         bool   `yaml:"require_tls"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"tls_insecure"`
	LocalName          string `yaml:"local_name"`
	TestAccountURL     string `yaml:"test_account_url"`
}

// EmailJSConfig holds EmailJS REST API configuration.
type EmailJSConfig struct {
	APIURL     string `yaml:"api_url"`
	ServiceID  string `yaml:"service_id"`
	TemplateID string `yaml:"template_id"`
	PublicKey  string `yaml:"public_key"`
	PrivateKey string `yaml:"private_key"`
}

// SESConfig holds AWS SES configuration for the ses mail transport.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
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

// UsesEmailJS reports whether the provider selector routes to the REST API.
func (c *Config) UsesEmailJS() bool {
	return c.Provider == ProviderEmailJS
}

// UsesSES reports whether the mail transport is AWS SES. CI mode always
// forces the SMTP test relay.
func (c *Config) UsesSES() bool {
	return !c.CI && c.SMTP.Transport == TransportSES
}

// SMTPAuthConfigured returns true if both SMTP user and password are set.
func (c *Config) SMTPAuthConfigured() bool {
	return c.SMTP.User != "" && c.SMTP.Pass != ""
}

// EmailJSConfigured returns true if the identifiers EmailJS requires are set.
func (c *Config) EmailJSConfigured() bool {
	return c.EmailJS.APIURL != "" &&
		c.EmailJS.ServiceID != "" &&
		c.EmailJS.TemplateID != "" &&
		c.EmailJS.PublicKey != ""
}

// SESConfigured returns true if an SES region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = ProviderSMTP
	c.SMTP.Transport = TransportSMTP
	c.SMTP.Host = defaultSMTPHost
	c.SMTP.Port = defaultSMTPPort
	c.SMTP.TestAccountURL = defaultTestAccountURL
	c.EmailJS.APIURL = defaultEmailJSAPIURL
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("MAIL_PROVIDER"); v != "" {
		c.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("CI"); v != "" {
		c.CI = parseFlag(v)
	}

	if v := os.Getenv("SMTP_TRANSPORT"); v != "" {
		c.SMTP.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		c.SMTP.User = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		c.SMTP.Pass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		c.SMTP.From = v
	}
	if v := os.Getenv("SMTP_SECURE"); v != "" {
		c.SMTP.Secure = parseFlag(v)
	}
	if v := os.Getenv("SMTP_REQUIRE_TLS"); v != "" {
		c.SMTP.RequireTLS = parseFlag(v)
	}
	if v := os.Getenv("SMTP_CA_FILE"); v != "" {
		c.SMTP.CAFile = v
	}
	if v := os.Getenv("SMTP_TLS_INSECURE"); v != "" {
		c.SMTP.InsecureSkipVerify = parseFlag(v)
	}
	if v := os.Getenv("SMTP_LOCAL_NAME"); v != "" {
		c.SMTP.LocalName = v
	}
	if v := os.Getenv("ETHEREAL_API_URL"); v != "" {
		c.SMTP.TestAccountURL = v
	}

	if v := os.Getenv("EMAILJS_API_URL"); v != "" {
		c.EmailJS.APIURL = v
	}
	if v := os.Getenv("EMAILJS_SERVICE_ID"); v != "" {
		c.EmailJS.ServiceID = v
	}
	if v := os.Getenv("EMAILJS_TEMPLATE_ID"); v != "" {
		c.EmailJS.TemplateID = v
	}
	if v := os.Getenv("EMAILJS_PUBLIC_KEY"); v != "" {
		c.EmailJS.PublicKey = v
	}
	if v := os.Getenv("EMAILJS_PRIVATE_KEY"); v != "" {
		c.EmailJS.PrivateKey = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// parseFlag reads a boolean environment value. Anything strconv.ParseBool
// rejects counts as set, the way CI runners export CI=1 or CI=yes.
func parseFlag(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return true
	}
	return b
}
