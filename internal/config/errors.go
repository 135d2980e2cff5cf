package config

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownType  = errors.New("unknown image type")
	ErrInvalidValue = errors.New("invalid value")
)

// ConfigError reports an invalid configuration value or a reference to an
// unregistered type. It is never retried.
type ConfigError struct {
	Field string
	Value any
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s=%v: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func invalid(field string, value any, reason string) *ConfigError {
	return &ConfigError{
		Field: field,
		Value: value,
		Err:   fmt.Errorf("%w: %s", ErrInvalidValue, reason),
	}
}
