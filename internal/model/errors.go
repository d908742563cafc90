package model

import "fmt"

// ConfigurationError reports an invalid or missing model configuration
// field. It is fatal: no generation is attempted.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "model configuration: " + e.Reason
	}
	return fmt.Sprintf("model configuration: %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
