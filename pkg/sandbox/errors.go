package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all backend adapters.
var (
	// ErrNotInitialized is returned by any operation invoked before a
	// successful Initialize or after Close.
	ErrNotInitialized = errors.New("interpreter not initialized, call Initialize first")

	// ErrPathTraversal is returned when a path normalizes outside the
	// workspace root.
	ErrPathTraversal = errors.New("path traversal not allowed")

	// ErrUnsupportedBackend is returned for an unknown backend type tag.
	ErrUnsupportedBackend = errors.New("unsupported interpreter type")

	// ErrMissingConfig is wrapped by ConfigError.
	ErrMissingConfig = errors.New("missing required configuration")
)

// ConfigError names a required configuration field that is absent for a
// backend.
type ConfigError struct {
	Backend string
	Field   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s must be provided for the %s interpreter", ErrMissingConfig, e.Field, e.Backend)
}

func (e *ConfigError) Unwrap() error {
	return ErrMissingConfig
}
