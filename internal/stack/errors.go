package stack

import (
	"errors"
	"fmt"
)

// ErrConfig is matched by every template construction error.
var ErrConfig = errors.New("invalid stack configuration")

// ConfigError describes a configuration problem that prevents template construction.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrConfig, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrConfig, e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrConfig) true for every ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// Errorf builds a ConfigError for field.
func Errorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
