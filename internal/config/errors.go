package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is the sentinel kind for all configuration failures.
var ErrInvalidConfig = errors.New("invalid experiment config")

// ConfigError reports a specific offending field so the user can locate and
// fix it. Not retryable without a config change.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", ErrInvalidConfig, e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidConfig
}

// Is lets callers match any ConfigError against ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }
