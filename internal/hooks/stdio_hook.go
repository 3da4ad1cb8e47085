package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// StdioHook writes event data to stdout/stderr in a configured format.
type StdioHook struct {
	id     string
	format string // "json" or "env"
	output *os.File
}

// NewStdioHook creates a stdio hook writing to stderr by default.
func NewStdioHook(id, format string) *StdioHook {
	return &StdioHook{id: id, format: format, output: os.Stderr}
}

// SetOutput overrides the output destination.
func (h *StdioHook) SetOutput(output *os.File) *StdioHook {
	h.output = output
	return h
}

// Execute writes the event in the configured format.
func (h *StdioHook) Execute(ctx context.Context, event Event) error {
	switch h.format {
	case "json":
		return h.outputJSON(event)
	case "env":
		return h.outputEnv(event)
	default:
		return fmt.Errorf("stdio hook %s: unsupported format: %s", h.id, h.format)
	}
}

// Type returns the hook type identifier.
func (h *StdioHook) Type() string { return "stdio" }

// ID returns the hook's unique id.
func (h *StdioHook) ID() string { return h.id }

func (h *StdioHook) outputJSON(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("stdio hook %s: marshal: %w", h.id, err)
	}
	if _, err := fmt.Fprintf(h.output, "WEBMRELAY_EVENT: %s\n", data); err != nil {
		return fmt.Errorf("stdio hook %s: write: %w", h.id, err)
	}
	return nil
}

func (h *StdioHook) outputEnv(event Event) error {
	lines := []string{
		"# webmrelay event: " + string(event.Type),
		fmt.Sprintf("WEBMRELAY_EVENT_TYPE=%s", event.Type),
		fmt.Sprintf("WEBMRELAY_TIMESTAMP=%d", event.Timestamp),
	}
	if event.StreamName != "" {
		lines = append(lines, "WEBMRELAY_STREAM_NAME="+event.StreamName)
	}
	if event.SubscriberID != "" {
		lines = append(lines, "WEBMRELAY_SUBSCRIBER_ID="+event.SubscriberID)
	}
	for key, value := range event.Data {
		lines = append(lines, "WEBMRELAY_"+strings.ToUpper(key)+"="+fmt.Sprintf("%v", value))
	}
	lines = append(lines, "")

	for _, line := range lines {
		if _, err := fmt.Fprintln(h.output, line); err != nil {
			return fmt.Errorf("stdio hook %s: write: %w", h.id, err)
		}
	}
	return nil
}
