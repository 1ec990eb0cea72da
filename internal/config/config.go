// Package config provides configuration types for Promptgate.
//
// Configuration is file-based (prompt-gate.yaml) with environment variable
// overrides under the PROMPT_GATE_ prefix. Providers and mux rules seeded
// here are the startup state; the admin API manages them at runtime.
package config

// Config is the top-level configuration for the gateway.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Storage selects the state backend.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Secrets configures the redaction pipeline step.
	Secrets SecretsConfig `yaml:"secrets" mapstructure:"secrets"`

	// RiskDB configures the package-risk lookup service.
	RiskDB RiskDBConfig `yaml:"risk_db" mapstructure:"risk_db"`

	// Policies defines operator policy rules evaluated on every request.
	// Rules are CEL expressions; evaluating to true blocks the request.
	Policies []PolicyRuleConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`

	// Providers seeds provider endpoints at startup. Providers already
	// registered under the same name are left untouched.
	Providers []ProviderConfig `yaml:"providers" mapstructure:"providers" validate:"omitempty,dive"`

	// Admin configures the control-plane API.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Telemetry configures tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// TLS is handled by a reverse proxy in front of the gateway.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8989").
	// Defaults to "127.0.0.1:8989" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ShutdownTimeout bounds graceful shutdown (e.g., "10s").
	// Defaults to "10s" if not specified.
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty"`
}

// StorageConfig selects where workspaces, sessions, providers, alerts, and
// usage records live.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	// Defaults to "memory" if empty.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory sqlite"`

	// SQLitePath is the database file path, required for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// SecretsConfig configures credential redaction.
type SecretsConfig struct {
	// Enabled controls whether the redaction steps run.
	// Defaults to true; set explicitly to false to opt out.
	Enabled *bool `yaml:"enabled" mapstructure:"enabled"`

	// SignaturesFile optionally replaces the embedded signature rules.
	SignaturesFile string `yaml:"signatures_file" mapstructure:"signatures_file"`
}

// RiskDBConfig configures the package-risk database client.
type RiskDBConfig struct {
	// Enabled controls whether the package-risk steps run.
	// Default: false (opt-in, requires a reachable risk database).
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// BaseURL is the risk database service root.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
}

// PolicyRuleConfig defines one operator policy rule.
type PolicyRuleConfig struct {
	// Name identifies the rule in logs and block messages.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Expression is a CEL expression over the request view.
	// Available variables: model, workspace, message_count, last_user_message.
	Expression string `yaml:"expression" mapstructure:"expression" validate:"required"`

	// Message is the user-visible explanation when the rule blocks.
	Message string `yaml:"message" mapstructure:"message"`
}

// ProviderConfig seeds one provider endpoint.
type ProviderConfig struct {
	// Name is the unique registration name referenced by mux rules.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Type is the wire dialect: "openai", "anthropic", "ollama", or "gemini".
	Type string `yaml:"type" mapstructure:"type" validate:"required,provider_type"`

	// BaseURL is the endpoint root (e.g., "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`

	// AuthKeyEnv names the environment variable holding the credential.
	// Keys are never written into the config file itself.
	AuthKeyEnv string `yaml:"auth_key_env" mapstructure:"auth_key_env"`
}

// AdminConfig configures the control-plane API.
type AdminConfig struct {
	// APIKeyHash is the argon2id hash of the admin API key.
	// Generate with: prompt-gate hash-key
	// When empty, the admin API only accepts requests from localhost.
	APIKeyHash string `yaml:"api_key_hash" mapstructure:"api_key_hash"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// TracingEnabled turns span export on.
	// Default: false.
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
}

// RedactionEnabled reports whether secret redaction is on (default true).
func (c *Config) RedactionEnabled() bool {
	return c.Secrets.Enabled == nil || *c.Secrets.Enabled
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only; network exposure must be explicit.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8989"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
}

// SetDevDefaults applies permissive defaults for development mode.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	// A local ollama backend makes the gateway usable with zero provider
	// configuration in dev mode.
	if len(c.Providers) == 0 {
		c.Providers = []ProviderConfig{
			{
				Name:    "local-ollama",
				Type:    "ollama",
				BaseURL: "http://127.0.0.1:11434",
			},
		}
	}
}
