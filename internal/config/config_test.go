package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allEnvVars = []string{
	"HTTP_LISTEN", "HTTP_MAX_UPLOAD_BYTES",
	"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL", "GEMINI_API_KEY", "GEMINI_MODEL", "CAPTION_TIMEOUT",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "SMTP_FAILURE_POLICY", "SMTP_CA_FILE", "SMTP_TIMEOUT", "EMAIL_FROM",
	"RELAY_PROVIDER", "RELAY_TIMEOUT", "RESEND_API_KEY", "RESEND_BASE_URL", "SENDGRID_API_KEY", "SENDGRID_BASE_URL",
	"SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY", "SES_SENDER",
	"GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET", "GRAPH_SENDER",
	"SANDBOX_API_URL", "SANDBOX_DISABLED", "LOG_LEVEL",
}

// clearEnv blanks every recognized variable and points DOTENV_FILE at a file
// that does not exist so a developer's .env cannot leak into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnvVars {
		t.Setenv(env, "")
	}
	t.Setenv("DOTENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Listen != ":3000" {
		t.Errorf("HTTP.Listen: got %q, want %q", cfg.HTTP.Listen, ":3000")
	}
	if cfg.HTTP.MaxUploadBytes != 20<<20 {
		t.Errorf("HTTP.MaxUploadBytes: got %d, want %d", cfg.HTTP.MaxUploadBytes, 20<<20)
	}
	if cfg.SMTP.Port != 587 {
		t.Errorf("SMTP.Port: got %d, want 587", cfg.SMTP.Port)
	}
	if cfg.EmailFrom != "AI Agent <no-reply@example.com>" {
		t.Errorf("EmailFrom: got %q", cfg.EmailFrom)
	}
	if !cfg.SMTPFailureIsFatal() {
		t.Error("SMTPFailureIsFatal(): got false, want true by default")
	}
	if cfg.SMTPConfigured() {
		t.Error("SMTPConfigured(): got true, want false")
	}
	if got := cfg.RelayKind(); got != "" {
		t.Errorf("RelayKind(): got %q, want empty", got)
	}
	if got := cfg.CaptionBackend(); got != CaptionNone {
		t.Errorf("CaptionBackend(): got %q, want %q", got, CaptionNone)
	}
	if cfg.Caption.Timeout != 20*time.Second {
		t.Errorf("Caption.Timeout: got %v, want 20s", cfg.Caption.Timeout)
	}
	if cfg.Relay.Timeout != 15*time.Second {
		t.Errorf("Relay.Timeout: got %v, want 15s", cfg.Relay.Timeout)
	}
	if cfg.Sandbox.APIURL != "https://api.nodemailer.com" {
		t.Errorf("Sandbox.APIURL: got %q", cfg.Sandbox.APIURL)
	}
	if cfg.Sandbox.Disabled {
		t.Error("Sandbox.Disabled: got true, want false")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_LISTEN", ":8080")
	t.Setenv("HTTP_MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("CAPTION_TIMEOUT", "5s")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("SMTP_USER", "mailer")
	t.Setenv("SMTP_PASS", "secret123")
	t.Setenv("SMTP_FAILURE_POLICY", "FALLTHROUGH")
	t.Setenv("SMTP_TIMEOUT", "10s")
	t.Setenv("EMAIL_FROM", "Captions <captions@example.com>")
	t.Setenv("RELAY_PROVIDER", "SendGrid")
	t.Setenv("RELAY_TIMEOUT", "3s")
	t.Setenv("SENDGRID_API_KEY", "SG.key")
	t.Setenv("SANDBOX_DISABLED", "true")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Listen != ":8080" {
		t.Errorf("HTTP.Listen: got %q, want %q", cfg.HTTP.Listen, ":8080")
	}
	if cfg.HTTP.MaxUploadBytes != 1048576 {
		t.Errorf("HTTP.MaxUploadBytes: got %d, want 1048576", cfg.HTTP.MaxUploadBytes)
	}
	if cfg.Caption.OpenAIModel != "gpt-4o" {
		t.Errorf("Caption.OpenAIModel: got %q, want %q", cfg.Caption.OpenAIModel, "gpt-4o")
	}
	if cfg.Caption.Timeout != 5*time.Second {
		t.Errorf("Caption.Timeout: got %v, want 5s", cfg.Caption.Timeout)
	}
	if got := cfg.CaptionBackend(); got != CaptionOpenAI {
		t.Errorf("CaptionBackend(): got %q, want %q", got, CaptionOpenAI)
	}
	if !cfg.SMTPConfigured() {
		t.Error("SMTPConfigured(): got false, want true")
	}
	if cfg.SMTP.Port != 465 {
		t.Errorf("SMTP.Port: got %d, want 465", cfg.SMTP.Port)
	}
	if cfg.SMTPFailureIsFatal() {
		t.Error("SMTPFailureIsFatal(): got true, want false")
	}
	if cfg.SMTP.Timeout != 10*time.Second {
		t.Errorf("SMTP.Timeout: got %v, want 10s", cfg.SMTP.Timeout)
	}
	if cfg.EmailFrom != "Captions <captions@example.com>" {
		t.Errorf("EmailFrom: got %q", cfg.EmailFrom)
	}
	if got := cfg.RelayKind(); got != RelaySendGrid {
		t.Errorf("RelayKind(): got %q, want %q", got, RelaySendGrid)
	}
	if cfg.Relay.Timeout != 3*time.Second {
		t.Errorf("Relay.Timeout: got %v, want 3s", cfg.Relay.Timeout)
	}
	if !cfg.Sandbox.Disabled {
		t.Error("Sandbox.Disabled: got false, want true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "port not a number", key: "SMTP_PORT", val: "smtp"},
		{name: "port out of range", key: "SMTP_PORT", val: "70000"},
		{name: "bad caption timeout", key: "CAPTION_TIMEOUT", val: "soon"},
		{name: "bad relay timeout", key: "RELAY_TIMEOUT", val: "10"},
		{name: "unknown relay", key: "RELAY_PROVIDER", val: "pigeon"},
		{name: "relay selected without credentials", key: "RELAY_PROVIDER", val: "ses"},
		{name: "unknown policy", key: "SMTP_FAILURE_POLICY", val: "retry"},
		{name: "bad sandbox flag", key: "SANDBOX_DISABLED", val: "maybe"},
		{name: "bad upload size", key: "HTTP_MAX_UPLOAD_BYTES", val: "big"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q, got nil", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_Dotenv(t *testing.T) {
	clearEnv(t)

	dotenvPath := filepath.Join(t.TempDir(), "test.env")
	content := "RESEND_API_KEY=re_from_dotenv\nLOG_LEVEL=warn\n"
	if err := os.WriteFile(dotenvPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}
	t.Setenv("DOTENV_FILE", dotenvPath)
	// godotenv never overrides variables that are already set, even when empty,
	// so unset the blanked ones we want the file to provide.
	os.Unsetenv("RESEND_API_KEY")
	os.Unsetenv("LOG_LEVEL")
	t.Cleanup(func() {
		os.Unsetenv("RESEND_API_KEY")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Resend.APIKey != "re_from_dotenv" {
		t.Errorf("Resend.APIKey: got %q, want %q", cfg.Resend.APIKey, "re_from_dotenv")
	}
	if got := cfg.RelayKind(); got != RelayResend {
		t.Errorf("RelayKind(): got %q, want %q", got, RelayResend)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestLoadFromFile(t *testing.T) {
	yamlContent := `
http:
  listen: ":4000"
caption:
  gemini_api_key: "gm-key"
  timeout: 7s
smtp:
  host: "smtp.yaml.example"
  port: 2525
  username: "yamluser"
  password: "yamlpass"
graph:
  tenant_id: "yaml-tenant"
  client_id: "yaml-client"
  client_secret: "yaml-secret"
  sender: "yaml@example.com"
email_from: "yaml@example.com"
logging:
  level: "warn"
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	// Clear env vars to ensure YAML values come through
	clearEnv(t)

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Listen != ":4000" {
		t.Errorf("HTTP.Listen: got %q, want %q", cfg.HTTP.Listen, ":4000")
	}
	if got := cfg.CaptionBackend(); got != CaptionGemini {
		t.Errorf("CaptionBackend(): got %q, want %q", got, CaptionGemini)
	}
	if cfg.Caption.Timeout != 7*time.Second {
		t.Errorf("Caption.Timeout: got %v, want 7s", cfg.Caption.Timeout)
	}
	if cfg.SMTP.Port != 2525 {
		t.Errorf("SMTP.Port: got %d, want 2525", cfg.SMTP.Port)
	}
	if !cfg.SMTPConfigured() {
		t.Error("SMTPConfigured(): got false, want true")
	}
	if got := cfg.RelayKind(); got != RelayGraph {
		t.Errorf("RelayKind(): got %q, want %q", got, RelayGraph)
	}
	if cfg.EmailFrom != "yaml@example.com" {
		t.Errorf("EmailFrom: got %q, want %q", cfg.EmailFrom, "yaml@example.com")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	yamlContent := `
http:
  listen: ":4000"
smtp:
  username: "yamluser"
logging:
  level: "warn"
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	clearEnv(t)
	t.Setenv("HTTP_LISTEN", ":9000")
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Env var should override YAML
	if cfg.HTTP.Listen != ":9000" {
		t.Errorf("HTTP.Listen: got %q, want %q (env should override YAML)", cfg.HTTP.Listen, ":9000")
	}
	// Empty env var should NOT override YAML value
	if cfg.SMTP.Username != "yamluser" {
		t.Errorf("SMTP.Username: got %q, want %q (empty env should not override YAML)", cfg.SMTP.Username, "yamluser")
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level: got %q, want %q (env should override YAML)", cfg.Logging.Level, "error")
	}
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestSMTPConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		smtp   SMTPConfig
		expect bool
	}{
		{name: "all set", smtp: SMTPConfig{Host: "h", Username: "u", Password: "p"}, expect: true},
		{name: "missing host", smtp: SMTPConfig{Username: "u", Password: "p"}, expect: false},
		{name: "missing user", smtp: SMTPConfig{Host: "h", Password: "p"}, expect: false},
		{name: "missing password", smtp: SMTPConfig{Host: "h", Username: "u"}, expect: false},
		{name: "none set", smtp: SMTPConfig{}, expect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{SMTP: tt.smtp}
			if got := cfg.SMTPConfigured(); got != tt.expect {
				t.Errorf("SMTPConfigured(): got %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestGraphConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		graph  GraphConfig
		expect bool
	}{
		{
			name:   "all set",
			graph:  GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "sender@example.com"},
			expect: true,
		},
		{
			name:   "missing tenant_id",
			graph:  GraphConfig{ClientID: "c", ClientSecret: "s", Sender: "sender@example.com"},
			expect: false,
		},
		{
			name:   "missing client_secret",
			graph:  GraphConfig{TenantID: "t", ClientID: "c", Sender: "sender@example.com"},
			expect: false,
		},
		{
			name:   "none set",
			graph:  GraphConfig{},
			expect: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Graph: tt.graph}
			if got := cfg.GraphConfigured(); got != tt.expect {
				t.Errorf("GraphConfigured(): got %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestSESConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ses    SESConfig
		expect bool
	}{
		{name: "region and sender set", ses: SESConfig{Region: "us-east-1", Sender: "ses@example.com"}, expect: true},
		{name: "missing region", ses: SESConfig{Sender: "ses@example.com"}, expect: false},
		{name: "missing sender", ses: SESConfig{Region: "us-east-1"}, expect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{SES: tt.ses}
			if got := cfg.SESConfigured(); got != tt.expect {
				t.Errorf("SESConfigured(): got %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestRelayKind(t *testing.T) {
	t.Parallel()

	graph := GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "g@example.com"}
	ses := SESConfig{Region: "eu-west-1", Sender: "s@example.com"}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "nothing configured", cfg: Config{}, want: ""},
		{name: "resend wins auto-detect", cfg: Config{Resend: ResendConfig{APIKey: "re"}, SendGrid: SendGridConfig{APIKey: "sg"}}, want: RelayResend},
		{name: "sendgrid only", cfg: Config{SendGrid: SendGridConfig{APIKey: "sg"}}, want: RelaySendGrid},
		{name: "ses before graph", cfg: Config{SES: ses, Graph: graph}, want: RelaySES},
		{name: "graph only", cfg: Config{Graph: graph}, want: RelayGraph},
		{name: "explicit graph over resend", cfg: Config{Relay: RelayConfig{Provider: RelayGraph}, Resend: ResendConfig{APIKey: "re"}, Graph: graph}, want: RelayGraph},
		{name: "explicit but unconfigured", cfg: Config{Relay: RelayConfig{Provider: RelaySES}, Resend: ResendConfig{APIKey: "re"}}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.cfg.RelayKind(); got != tt.want {
				t.Errorf("RelayKind(): got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCaptionBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		caption CaptionConfig
		want    string
	}{
		{name: "openai preferred", caption: CaptionConfig{OpenAIKey: "sk", GeminiKey: "gm"}, want: CaptionOpenAI},
		{name: "gemini only", caption: CaptionConfig{GeminiKey: "gm"}, want: CaptionGemini},
		{name: "none", caption: CaptionConfig{}, want: CaptionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Caption: tt.caption}
			if got := cfg.CaptionBackend(); got != tt.want {
				t.Errorf("CaptionBackend(): got %q, want %q", got, tt.want)
			}
		})
	}
}
