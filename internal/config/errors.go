package config

import "strings"

// ConfigError lists every problem that prevents startup.
type ConfigError struct {
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) Unwrap() error { return e.Err }
