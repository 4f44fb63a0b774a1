package config

import (
	"errors"
	"fmt"
)

// ErrInvalid matches every *ConfigError via errors.Is.
var ErrInvalid = errors.New("invalid configuration")

// ConfigError reports a missing or malformed configuration value.
type ConfigError struct {
	Field  string // dotted path, ex: "database.host"
	Reason string
	Err    error // underlying parse error, if any
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrInvalid }
