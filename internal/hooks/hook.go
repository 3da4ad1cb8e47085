// Package hooks implements an async event-dispatch extension point: stream
// and subscriber lifecycle events fire hooks (webhook, shell, stdio) without
// blocking the broadcast or registry that raised them.
package hooks

import "context"

// Hook represents a handler that can be executed when an event occurs.
type Hook interface {
	Execute(ctx context.Context, event Event) error
	Type() string
	ID() string
}

// Config is the configuration for a HookManager.
type Config struct {
	// Timeout for hook execution (default: 30s).
	Timeout string `yaml:"timeout"`

	// Maximum number of concurrent hook executions (default: 10).
	Concurrency int64 `yaml:"concurrency"`

	// StdioFormat enables structured stdio output: "json", "env", or "".
	StdioFormat string `yaml:"stdio_format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     "30s",
		Concurrency: 10,
		StdioFormat: "",
	}
}
