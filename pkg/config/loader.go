package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, SANDBOX_CONFIG env, ./config.yaml, /etc/mcp-sandbox/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if filePath := discoverConfigFile(configPath); filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile returns the first config file candidate, or an empty
// string when none exists. An explicit path is returned unchecked so a
// missing file surfaces as a load error.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("SANDBOX_CONFIG"); envPath != "" {
		return envPath
	}

	for _, path := range []string{"config.yaml", "/etc/mcp-sandbox/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile parses a YAML file over cfg. Fields absent from the file
// keep their current values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables onto config fields.
// INTERPRETER_TYPE, E2B_API_KEY and the FIRECRACKER_* names are the
// variables existing deployments already set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INTERPRETER_TYPE"); v != "" {
		cfg.Backend.Type = v
	}
	if v := os.Getenv("E2B_API_KEY"); v != "" {
		cfg.Backend.E2B.APIKey = v
	}
	if v := os.Getenv("E2B_DOMAIN"); v != "" {
		cfg.Backend.E2B.Domain = v
	}
	if v := os.Getenv("FIRECRACKER_BACKEND_URL"); v != "" {
		cfg.Backend.Firecracker.BackendURL = v
	}
	if v := os.Getenv("FIRECRACKER_API_KEY"); v != "" {
		cfg.Backend.Firecracker.APIKey = v
	}
	if v := os.Getenv("DOCKER_IMAGE"); v != "" {
		cfg.Backend.Docker.Image = v
	}
	if v := os.Getenv("SANDBOX_WORKSPACE_MOUNT"); v != "" {
		cfg.Backend.Docker.WorkspaceMount = v
	}
	if v := os.Getenv("SANDBOX_TRANSPORT"); v != "" {
		cfg.Server.Transport = v
	}
	if v := os.Getenv("SANDBOX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SANDBOX_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("SANDBOX_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("SANDBOX_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}
	if v := os.Getenv("SANDBOX_TELNET_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Telnet.Enabled = enabled
		}
	}

	// SANDBOX_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("SANDBOX_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err == nil && len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var raw []struct {
		Key         string `json:"key"`
		KeyFile     string `json:"key_file"`
		Subject     string `json:"subject"`
		TenantID    string `json:"tenant_id"`
		ServiceTier string `json:"service_tier"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	keys := make([]APIKeyConfig, len(raw))
	for i, k := range raw {
		keys[i] = APIKeyConfig(k)
	}
	return keys, nil
}

// resolveFileReferences fills empty secret fields from their _file
// counterparts, trimming surrounding whitespace.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"backend.e2b.api_key_file", cfg.Backend.E2B.APIKeyFile, &cfg.Backend.E2B.APIKey},
		{"backend.firecracker.api_key_file", cfg.Backend.Firecracker.APIKeyFile, &cfg.Backend.Firecracker.APIKey},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
	}
	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}

	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
