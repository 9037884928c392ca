package config

import "fmt"

// ConfigurationError reports an invalid or contradictory dataset descriptor.
// It is fatal and raised before any I/O.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid dataset configuration: field %q %s", e.Field, e.Reason)
}
