// Package config provides unified configuration for the sandbox server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the sandbox server.
type Config struct {
	Backend       BackendConfig       `yaml:"backend"`
	Session       SessionConfig       `yaml:"session"`
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Telnet        TelnetConfig        `yaml:"telnet"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// BackendConfig selects and configures the execution backend.
type BackendConfig struct {
	Type        string            `yaml:"type"` // "e2b", "docker" ("container"), "firecracker"
	E2B         E2BConfig         `yaml:"e2b"`
	Docker      DockerConfig      `yaml:"docker"`
	Firecracker FirecrackerConfig `yaml:"firecracker"`
}

// E2BConfig holds cloud sandbox settings.
type E2BConfig struct {
	APIKey     string        `yaml:"api_key"`
	APIKeyFile string        `yaml:"api_key_file"`
	Domain     string        `yaml:"domain"`   // default: e2b.app
	Template   string        `yaml:"template"` // default: code-interpreter-v1
	Timeout    time.Duration `yaml:"timeout"`  // sandbox lifetime, default: 5m
}

// DockerConfig holds container backend settings.
type DockerConfig struct {
	Image           string `yaml:"image"`            // default: yingchuan/devenv:latest
	Binary          string `yaml:"binary"`           // default: docker
	ContainerPrefix string `yaml:"container_prefix"` // default: mcp-sandbox
	WorkspaceMount  string `yaml:"workspace_mount"`  // default: ~/tmp/mcp-sandbox
}

// FirecrackerConfig holds microVM backend settings.
type FirecrackerConfig struct {
	BackendURL string `yaml:"backend_url"`
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"`
}

// SessionConfig holds session registry timeouts.
type SessionConfig struct {
	CreateTimeout   time.Duration `yaml:"create_timeout"`    // default: 2m
	CloseTimeout    time.Duration `yaml:"close_timeout"`     // default: 10s
	CloseAllTimeout time.Duration `yaml:"close_all_timeout"` // default: 5s
	ExecTimeout     time.Duration `yaml:"exec_timeout"`      // default: 30s
}

// ServerConfig holds MCP transport settings.
type ServerConfig struct {
	Transport    string        `yaml:"transport"`     // "stdio" or "http", default: stdio
	Port         int           `yaml:"port"`          // default: 8080
	Path         string        `yaml:"path"`          // default: /mcp
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 120s
}

// StorageConfig holds session ledger settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "none", "memory", "postgres", default: memory
	MaxSize  int            `yaml:"max_size"` // for memory ledger, default: 1000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`
	MaxConns       int32  `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// AuthConfig holds authentication settings for the HTTP transport.
type AuthConfig struct {
	Type         string         `yaml:"type"` // "none", "apikey", "jwt", default: none
	APIKeys      []APIKeyConfig `yaml:"api_keys"`
	JWT          JWTConfig      `yaml:"jwt"`
	RateLimitRPM int            `yaml:"rate_limit_rpm"` // 0 disables rate limiting
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key"`
	KeyFile     string `yaml:"key_file"`
	Subject     string `yaml:"subject"`
	TenantID    string `yaml:"tenant_id"`
	ServiceTier string `yaml:"service_tier"`
}

// JWTConfig holds bearer token validation settings.
type JWTConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JWKSURL  string `yaml:"jwks_url"`
}

// TelnetConfig controls the raw TCP client tools.
type TelnetConfig struct {
	Enabled        bool          `yaml:"enabled"`         // default: true
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // default: 30s
	ReadTimeout    time.Duration `yaml:"read_timeout"`    // default: 10s
}

// LoggingConfig holds slog settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: INFO
	Format string `yaml:"format"` // "text" or "json", default: text
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// ObservabilityConfig holds monitoring settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: /metrics
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Backend: BackendConfig{
			Type: "e2b",
			E2B: E2BConfig{
				Domain:   "e2b.app",
				Template: "code-interpreter-v1",
				Timeout:  5 * time.Minute,
			},
			Docker: DockerConfig{
				Image:           "yingchuan/devenv:latest",
				Binary:          "docker",
				ContainerPrefix: "mcp-sandbox",
			},
		},
		Session: SessionConfig{
			CreateTimeout:   2 * time.Minute,
			CloseTimeout:    10 * time.Second,
			CloseAllTimeout: 5 * time.Second,
			ExecTimeout:     30 * time.Second,
		},
		Server: ServerConfig{
			Transport:    "stdio",
			Port:         8080,
			Path:         "/mcp",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 1000,
			Postgres: PostgresConfig{
				MaxConns:       10,
				MigrateOnStart: true,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Telnet: TelnetConfig{
			Enabled:        true,
			ConnectTimeout: 30 * time.Second,
			ReadTimeout:    10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
