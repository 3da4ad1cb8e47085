// Package registry maps stream names to live broadcast.Broadcast sessions.
// A Broadcast is kept alive by its publisher, by a pending reap timer, or by
// any attached subscriber; when a publisher disconnects the registry starts
// a 10-second reap timer instead of stopping the session immediately, so a
// quick publisher reconnect resumes the same Broadcast for subscribers that
// never saw a break.
//
// Grounded on internal/rtmp/server/registry.go's create-or-get-with-double-
// checked-locking Registry, generalized from a plain name->Stream map to one
// that additionally tracks each entry's reap timer, and on
// original_source/webmcast/server.py's `collectors` dict of pending
// asyncio.sleep(10)-then-stop tasks.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alxayo/webmrelay/internal/broadcast"
	relerrors "github.com/alxayo/webmrelay/internal/errors"
	"github.com/alxayo/webmrelay/internal/hooks"
	"github.com/alxayo/webmrelay/internal/logger"
	"github.com/alxayo/webmrelay/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// ReapWindow is the grace period a Broadcast is kept alive after its
// publisher disconnects, per spec.md §9 "Reap window".
const ReapWindow = 10 * time.Second

// defaultReapConcurrency bounds how many reap timers may be executing their
// stop-and-remove work at once, so a mass publisher dropout can't spray an
// unbounded number of goroutines at the map lock.
const defaultReapConcurrency = 64

// Config is forwarded to every Broadcast the registry creates.
type Config struct {
	BroadcastConfig broadcast.Config
	Hooks           *hooks.Manager
	Metrics         *metrics.Collector
	Logger          *slog.Logger
	ReapWindow      time.Duration
	ReapConcurrency int64
}

func (c Config) withDefaults() Config {
	if c.ReapWindow <= 0 {
		c.ReapWindow = ReapWindow
	}
	if c.ReapConcurrency <= 0 {
		c.ReapConcurrency = defaultReapConcurrency
	}
	if c.Logger == nil {
		c.Logger = logger.Logger()
	}
	return c
}

type entry struct {
	b    *broadcast.Broadcast
	reap *time.Timer // non-nil while a reap is pending (no active publisher)
}

// Registry is process-wide: one instance serves every stream name.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	streams map[string]*entry

	reapSem *semaphore.Weighted
	log     *slog.Logger
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		cfg:     cfg,
		streams: make(map[string]*entry),
		reapSem: semaphore.NewWeighted(cfg.ReapConcurrency),
		log:     cfg.Logger,
	}
}

// Claim resolves a POST's stream name to the Broadcast the publisher should
// feed: an existing session is resumed if its reap timer is still pending
// (cancelling the timer), a brand new session is created if the name is
// unused, and NameInUse is returned if another publisher already owns it.
func (r *Registry) Claim(name string) (*broadcast.Broadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.streams[name]; ok {
		if e.reap == nil {
			r.triggerEvent(hooks.EventPublishReject, name)
			return nil, relerrors.NewNameInUse(name)
		}
		e.reap.Stop()
		e.reap = nil
		r.triggerEvent(hooks.EventPublishStart, name)
		r.log.Info("publisher reconnected within reap window", "stream", name)
		return e.b, nil
	}

	bcfg := r.cfg.BroadcastConfig
	bcfg.Hooks = r.cfg.Hooks
	bcfg.Metrics = r.cfg.Metrics
	b := broadcast.New(name, bcfg)
	r.streams[name] = &entry{b: b}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.IncActiveStreams()
	}
	r.triggerEvent(hooks.EventStreamCreate, name)
	r.triggerEvent(hooks.EventPublishStart, name)
	r.log.Info("stream created", "stream", name)
	return b, nil
}

// Release is called once a publisher's send loop ends cleanly (body read to
// completion, or an ordinary client disconnect). It schedules the reap timer
// rather than stopping the Broadcast outright.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.streams[name]
	if !ok {
		return
	}
	if e.reap != nil {
		return // already scheduled; nothing to do
	}
	e.reap = time.AfterFunc(r.cfg.ReapWindow, func() { r.reap(name) })
	r.triggerEvent(hooks.EventPublishStop, name)
	r.log.Info("publisher disconnected, reap scheduled", "stream", name, "window", r.cfg.ReapWindow)
}

// Abort immediately removes name's entry, bypassing the reap grace period.
// It is for a publisher that failed before producing a viewable stream (a
// BadContainer rejection on its very first chunk): the name must not linger
// as "reaping" and visible to GETs the way a clean disconnect would leave it.
func (r *Registry) Abort(name string) {
	r.mu.Lock()
	e, ok := r.streams[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	if e.reap != nil {
		e.reap.Stop()
	}
	delete(r.streams, name)
	r.mu.Unlock()

	e.b.Stop() // already decrements active_streams
	r.triggerEvent(hooks.EventContainerRejected, name)
	r.triggerEvent(hooks.EventStreamDestroy, name)
	r.log.Info("stream aborted before going live", "stream", name)
}

func (r *Registry) reap(name string) {
	if err := r.reapSem.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer r.reapSem.Release(1)

	r.mu.Lock()
	e, ok := r.streams[name]
	if !ok || e.reap == nil {
		r.mu.Unlock()
		return
	}
	delete(r.streams, name)
	r.mu.Unlock()

	e.b.Stop()
	r.triggerEvent(hooks.EventStreamDestroy, name)
	r.log.Info("stream reaped", "stream", name)
}

// Get returns the Broadcast registered under name, for a subscriber to
// Connect to. ok is false if no publisher has ever claimed the name, or the
// name has since been reaped.
func (r *Registry) Get(name string) (*broadcast.Broadcast, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.streams[name]
	if !ok {
		return nil, false
	}
	return e.b, true
}

// Names returns a snapshot of every currently registered stream name.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.streams))
	for name := range r.streams {
		out = append(out, name)
	}
	return out
}

// StopAll stops every currently registered Broadcast and removes its entry,
// cancelling any pending reap timer. Used on process shutdown so every
// subscriber writer observes end-of-stream and closes cleanly, per spec.md §5.
func (r *Registry) StopAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.streams))
	for name, e := range r.streams {
		if e.reap != nil {
			e.reap.Stop()
		}
		entries = append(entries, e)
		delete(r.streams, name)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.b.Stop()
	}
}

func (r *Registry) triggerEvent(t hooks.EventType, name string) {
	if r.cfg.Hooks == nil {
		return
	}
	ev := hooks.NewEvent(t).WithStreamName(name)
	r.cfg.Hooks.TriggerEvent(context.Background(), *ev)
}
