package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ShellHook executes a script or command when events occur.
type ShellHook struct {
	id       string
	command  string
	args     []string
	env      []string
	passJSON bool
	timeout  time.Duration
}

// NewShellHook creates a shell hook that runs scriptPath under /bin/bash.
func NewShellHook(id, scriptPath string, timeout time.Duration) *ShellHook {
	return &ShellHook{id: id, command: "/bin/bash", args: []string{scriptPath}, timeout: timeout}
}

// NewShellHookWithCommand creates a shell hook with an arbitrary command.
func NewShellHookWithCommand(id, command string, args []string, timeout time.Duration) *ShellHook {
	return &ShellHook{id: id, command: command, args: args, timeout: timeout}
}

// SetPassJSON enables passing the event as JSON over the child's stdin.
func (h *ShellHook) SetPassJSON(passJSON bool) *ShellHook {
	h.passJSON = passJSON
	return h
}

// SetEnv sets additional environment variables for the child process.
func (h *ShellHook) SetEnv(env []string) *ShellHook {
	h.env = env
	return h
}

// Execute runs the command with event fields exported as WEBMRELAY_* env vars.
func (h *ShellHook) Execute(ctx context.Context, event Event) error {
	execCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, h.command, h.args...)
	cmd.Env = append(os.Environ(), h.buildEnvironment(event)...)

	if h.passJSON {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("shell hook %s: stdin pipe: %w", h.id, err)
		}
		go func() {
			defer stdin.Close()
			_ = json.NewEncoder(stdin).Encode(event)
		}()
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shell hook %s: execution failed: %w", h.id, err)
	}
	return nil
}

// Type returns the hook type identifier.
func (h *ShellHook) Type() string { return "shell" }

// ID returns the hook's unique id.
func (h *ShellHook) ID() string { return h.id }

func (h *ShellHook) buildEnvironment(event Event) []string {
	env := append([]string(nil), h.env...)
	env = append(env, "WEBMRELAY_EVENT_TYPE="+string(event.Type))
	env = append(env, fmt.Sprintf("WEBMRELAY_TIMESTAMP=%d", event.Timestamp))
	if event.StreamName != "" {
		env = append(env, "WEBMRELAY_STREAM_NAME="+event.StreamName)
	}
	if event.SubscriberID != "" {
		env = append(env, "WEBMRELAY_SUBSCRIBER_ID="+event.SubscriberID)
	}
	for key, value := range event.Data {
		env = append(env, "WEBMRELAY_"+strings.ToUpper(key)+"="+fmt.Sprintf("%v", value))
	}
	return env
}
