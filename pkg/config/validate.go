package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
//
// Backend credentials are not checked here; the interpreter factory
// reports them when the server starts.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend.Type {
	case "e2b", "docker", "container", "firecracker":
		// valid
	default:
		errs = append(errs, fmt.Errorf("backend.type must be \"e2b\", \"docker\", \"container\", or \"firecracker\", got %q", c.Backend.Type))
	}

	switch c.Server.Transport {
	case "stdio", "http":
		// valid
	default:
		errs = append(errs, fmt.Errorf("server.transport must be \"stdio\" or \"http\", got %q", c.Server.Transport))
	}

	if c.Server.Transport == "http" && c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Session.CreateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.create_timeout must be > 0, got %v", c.Session.CreateTimeout))
	}
	if c.Session.CloseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.close_timeout must be > 0, got %v", c.Session.CloseTimeout))
	}
	if c.Session.CloseAllTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.close_all_timeout must be > 0, got %v", c.Session.CloseAllTimeout))
	}
	if c.Session.ExecTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.exec_timeout must be > 0, got %v", c.Session.ExecTimeout))
	}

	switch c.Storage.Type {
	case "none", "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"none\", \"memory\", or \"postgres\", got %q", c.Storage.Type))
	}

	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	switch c.Auth.Type {
	case "none", "apikey", "jwt":
		// valid
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.Auth.Type == "jwt" && c.Auth.JWT.JWKSURL == "" {
		errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
	}

	switch c.Logging.Format {
	case "text", "json", "":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
