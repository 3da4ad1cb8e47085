package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Manager dispatches events to registered hooks asynchronously, bounding
// concurrent hook executions with a weighted semaphore.
type Manager struct {
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	mu        sync.RWMutex
	sem       *semaphore.Weighted
	active    int64
	timeout   time.Duration
	logger    *slog.Logger
	config    Config
}

// NewManager creates a Manager from config.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		logger.Warn("invalid hook timeout, using default", "timeout", config.Timeout, "error", err)
		timeout = 30 * time.Second
	}

	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	m := &Manager{
		hooks:   make(map[EventType][]Hook),
		sem:     semaphore.NewWeighted(concurrency),
		timeout: timeout,
		logger:  logger,
		config:  config,
	}

	if config.StdioFormat != "" {
		if err := m.EnableStdioOutput(config.StdioFormat); err != nil {
			logger.Warn("could not enable stdio hook output", "error", err)
		}
	}

	return m
}

// RegisterHook registers a hook for the given event type.
func (m *Manager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("cannot register nil hook")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[eventType] = append(m.hooks[eventType], hook)
	m.logger.Info("hook registered", "event_type", eventType, "hook_type", hook.Type(), "hook_id", hook.ID())
	return nil
}

// UnregisterHook removes a hook by ID from the given event type.
func (m *Manager) UnregisterHook(eventType EventType, hookID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs := m.hooks[eventType]
	for i, h := range hs {
		if h.ID() == hookID {
			m.hooks[eventType] = append(hs[:i], hs[i+1:]...)
			m.logger.Info("hook unregistered", "event_type", eventType, "hook_id", hookID)
			return true
		}
	}
	return false
}

// TriggerEvent fires all hooks registered for event.Type, each in its own
// goroutine bounded by the manager's weighted semaphore. A nil Manager is a
// no-op so callers can wire hooks optionally.
func (m *Manager) TriggerEvent(ctx context.Context, event Event) {
	if m == nil {
		return
	}

	m.mu.RLock()
	hs := make([]Hook, len(m.hooks[event.Type]))
	copy(hs, m.hooks[event.Type])
	if m.stdioHook != nil {
		hs = append(hs, m.stdioHook)
	}
	m.mu.RUnlock()

	if len(hs) == 0 {
		return
	}

	m.logger.Debug("triggering event", "event_type", event.Type, "hook_count", len(hs), "event", event.String())
	for _, h := range hs {
		m.execute(ctx, h, event)
	}
}

func (m *Manager) execute(ctx context.Context, h Hook, event Event) {
	go func() {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			m.logger.Warn("hook execution not acquired", "hook_id", h.ID(), "error", err)
			return
		}
		defer m.sem.Release(1)

		m.mu.Lock()
		m.active++
		m.mu.Unlock()
		defer func() {
			m.mu.Lock()
			m.active--
			m.mu.Unlock()
		}()

		execCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		start := time.Now()
		err := h.Execute(execCtx, event)
		duration := time.Since(start)

		if err != nil {
			m.logger.Error("hook execution failed", "hook_type", h.Type(), "hook_id", h.ID(),
				"event_type", event.Type, "duration_ms", duration.Milliseconds(), "error", err)
		} else {
			m.logger.Debug("hook executed", "hook_type", h.Type(), "hook_id", h.ID(),
				"event_type", event.Type, "duration_ms", duration.Milliseconds())
		}
	}()
}

// EnableStdioOutput enables structured output to stdout/stderr.
func (m *Manager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("unsupported stdio format: %s", format)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdioHook = NewStdioHook("stdio", format)
	m.logger.Info("stdio output enabled", "format", format)
	return nil
}

// DisableStdioOutput disables structured output.
func (m *Manager) DisableStdioOutput() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdioHook = nil
	m.logger.Info("stdio output disabled")
}

// Stats returns counters about registered hooks and in-flight executions.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string]int)
	total := 0
	for t, hs := range m.hooks {
		byType[string(t)] = len(hs)
		total += len(hs)
	}

	return map[string]interface{}{
		"event_types":   len(m.hooks),
		"total_hooks":   total,
		"hooks_by_type": byType,
		"stdio_enabled": m.stdioHook != nil,
		"active":        m.active,
	}
}

// Close waits for in-flight hook executions to drain by acquiring the full
// semaphore weight, then releases it.
func (m *Manager) Close(ctx context.Context) error {
	if m.sem == nil {
		return nil
	}
	concurrency := m.config.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	if err := m.sem.Acquire(ctx, concurrency); err != nil {
		return fmt.Errorf("hooks: close: %w", err)
	}
	m.sem.Release(concurrency)
	m.logger.Info("hook manager closed")
	return nil
}
