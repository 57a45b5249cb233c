// Package config provides environment-variable-first configuration loading
// with optional YAML file and dotenv fallbacks for captionmail.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// defaultMaxUploadBytes is 20 MB in bytes.
const defaultMaxUploadBytes = 20 << 20

// SMTP failure policies.
const (
	SMTPFailureFatal       = "fatal"
	SMTPFailureFallthrough = "fallthrough"
)

// Relay provider kinds.
const (
	RelayResend   = "resend"
	RelaySendGrid = "sendgrid"
	RelaySES      = "ses"
	RelayGraph    = "graph"
)

// Caption backends.
const (
	CaptionOpenAI = "openai"
	CaptionGemini = "gemini"
	CaptionNone   = "none"
)

// Config holds the complete application configuration. It is built once at
// startup and must not be mutated afterwards.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Caption  CaptionConfig  `yaml:"caption"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Relay    RelayConfig    `yaml:"relay"`
	Resend   ResendConfig   `yaml:"resend"`
	SendGrid SendGridConfig `yaml:"sendgrid"`
	SES      SESConfig      `yaml:"ses"`
	Graph    GraphConfig    `yaml:"graph"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Logging  LoggingConfig  `yaml:"logging"`

	// EmailFrom is the From header used by every provider.
	EmailFrom string `yaml:"email_from"`
}

// HTTPConfig holds the inbound HTTP server configuration.
type HTTPConfig struct {
	Listen         string `yaml:"listen"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// CaptionConfig holds AI provider credentials for caption generation.
type CaptionConfig struct {
	OpenAIKey     string        `yaml:"openai_api_key"`
	OpenAIModel   string        `yaml:"openai_model"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	GeminiKey     string        `yaml:"gemini_api_key"`
	GeminiModel   string        `yaml:"gemini_model"`
	Timeout       time.Duration `yaml:"timeout"`
}

// SMTPConfig holds the primary SMTP submission settings.
type SMTPConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	FailurePolicy string `yaml:"failure_policy"`
	// CAFile optionally names a PEM bundle used instead of the system roots.
	CAFile  string        `yaml:"ca_file"`
	Timeout time.Duration `yaml:"timeout"`
}

// RelayConfig selects the API relay backend.
type RelayConfig struct {
	// Provider forces a relay backend. Empty means auto-detect.
	Provider string        `yaml:"provider"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// SendGridConfig holds SendGrid API configuration.
type SendGridConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// SandboxConfig holds the disposable mailbox settings.
type SandboxConfig struct {
	APIURL   string `yaml:"api_url"`
	Disabled bool   `yaml:"disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from an optional .env file and environment
// variables with sensible defaults. Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
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

	if err := loadDotenv(); err != nil {
		return nil, err
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// loadDotenv populates unset environment variables from the file named by
// DOTENV_FILE, or ./.env. A missing file is not an error.
func loadDotenv() error {
	path := os.Getenv("DOTENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load dotenv file: %w", err)
	}
	return nil
}

// SMTPConfigured returns true if host, username and password are all set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.Username != "" && c.SMTP.Password != ""
}

// SMTPFailureIsFatal reports whether a primary SMTP transport failure aborts
// the submission instead of falling through to the next provider.
func (c *Config) SMTPFailureIsFatal() bool {
	return c.SMTP.FailurePolicy != SMTPFailureFallthrough
}

// ResendConfigured returns true if a Resend API key is set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != ""
}

// SendGridConfigured returns true if a SendGrid API key is set.
func (c *Config) SendGridConfigured() bool {
	return c.SendGrid.APIKey != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// RelayKind returns the relay backend to use, or "" when none is available.
// An explicit Relay.Provider wins if its credentials are present; otherwise
// the first configured backend in the order resend, sendgrid, ses, graph.
func (c *Config) RelayKind() string {
	if c.Relay.Provider != "" {
		if c.relayConfigured(c.Relay.Provider) {
			return c.Relay.Provider
		}
		return ""
	}

	for _, kind := range []string{RelayResend, RelaySendGrid, RelaySES, RelayGraph} {
		if c.relayConfigured(kind) {
			return kind
		}
	}
	return ""
}

func (c *Config) relayConfigured(kind string) bool {
	switch kind {
	case RelayResend:
		return c.ResendConfigured()
	case RelaySendGrid:
		return c.SendGridConfigured()
	case RelaySES:
		return c.SESConfigured()
	case RelayGraph:
		return c.GraphConfigured()
	default:
		return false
	}
}

// CaptionBackend returns which AI provider generates captions.
func (c *Config) CaptionBackend() string {
	switch {
	case c.Caption.OpenAIKey != "":
		return CaptionOpenAI
	case c.Caption.GeminiKey != "":
		return CaptionGemini
	default:
		return CaptionNone
	}
}

// Validate reports configuration values that cannot be acted upon.
func (c *Config) Validate() error {
	switch c.SMTP.FailurePolicy {
	case SMTPFailureFatal, SMTPFailureFallthrough:
	default:
		return fmt.Errorf("unknown SMTP failure policy %q", c.SMTP.FailurePolicy)
	}

	switch c.Relay.Provider {
	case "":
	case RelayResend, RelaySendGrid, RelaySES, RelayGraph:
		if !c.relayConfigured(c.Relay.Provider) {
			return fmt.Errorf("relay provider %q selected but its credentials are incomplete", c.Relay.Provider)
		}
	default:
		return fmt.Errorf("unknown relay provider %q", c.Relay.Provider)
	}

	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("invalid SMTP port %d", c.SMTP.Port)
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid max upload size %d", c.HTTP.MaxUploadBytes)
	}
	if c.EmailFrom == "" {
		return errors.New("email from address is required")
	}

	return nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":3000"
	c.HTTP.MaxUploadBytes = defaultMaxUploadBytes
	c.Caption.OpenAIModel = "gpt-4o-mini"
	c.Caption.GeminiModel = "gemini-2.0-flash"
	c.Caption.Timeout = 20 * time.Second
	c.SMTP.Port = 587
	c.SMTP.FailurePolicy = SMTPFailureFatal
	c.SMTP.Timeout = 30 * time.Second
	c.Relay.Timeout = 15 * time.Second
	c.Resend.BaseURL = "https://api.resend.com"
	c.SendGrid.BaseURL = "https://api.sendgrid.com"
	c.Sandbox.APIURL = "https://api.nodemailer.com"
	c.Logging.Level = "info"
	c.EmailFrom = "AI Agent <no-reply@example.com>"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("HTTP_LISTEN", &c.HTTP.Listen)
	if v := os.Getenv("HTTP_MAX_UPLOAD_BYTES"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid HTTP_MAX_UPLOAD_BYTES: %w", err)
		}
		c.HTTP.MaxUploadBytes = size
	}

	setString("OPENAI_API_KEY", &c.Caption.OpenAIKey)
	setString("OPENAI_MODEL", &c.Caption.OpenAIModel)
	setString("OPENAI_BASE_URL", &c.Caption.OpenAIBaseURL)
	setString("GEMINI_API_KEY", &c.Caption.GeminiKey)
	setString("GEMINI_MODEL", &c.Caption.GeminiModel)
	if err := setDuration("CAPTION_TIMEOUT", &c.Caption.Timeout); err != nil {
		return err
	}

	setString("SMTP_HOST", &c.SMTP.Host)
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		c.SMTP.Port = port
	}
	setString("SMTP_USER", &c.SMTP.Username)
	setString("SMTP_PASS", &c.SMTP.Password)
	if v := os.Getenv("SMTP_FAILURE_POLICY"); v != "" {
		c.SMTP.FailurePolicy = strings.ToLower(v)
	}
	setString("SMTP_CA_FILE", &c.SMTP.CAFile)
	if err := setDuration("SMTP_TIMEOUT", &c.SMTP.Timeout); err != nil {
		return err
	}
	setString("EMAIL_FROM", &c.EmailFrom)

	if v := os.Getenv("RELAY_PROVIDER"); v != "" {
		c.Relay.Provider = strings.ToLower(v)
	}
	if err := setDuration("RELAY_TIMEOUT", &c.Relay.Timeout); err != nil {
		return err
	}
	setString("RESEND_API_KEY", &c.Resend.APIKey)
	setString("RESEND_BASE_URL", &c.Resend.BaseURL)
	setString("SENDGRID_API_KEY", &c.SendGrid.APIKey)
	setString("SENDGRID_BASE_URL", &c.SendGrid.BaseURL)

	setString("SES_REGION", &c.SES.Region)
	setString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	setString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	setString("SES_SENDER", &c.SES.Sender)

	setString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	setString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	setString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	setString("GRAPH_SENDER", &c.Graph.Sender)

	setString("SANDBOX_API_URL", &c.Sandbox.APIURL)
	if v := os.Getenv("SANDBOX_DISABLED"); v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SANDBOX_DISABLED: %w", err)
		}
		c.Sandbox.Disabled = disabled
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return nil
}

func setDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
