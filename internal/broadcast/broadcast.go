// Package broadcast implements the per-stream fan-out engine: one publisher's
// EBML/Matroska byte stream is parsed incrementally and replicated to many
// independently-paced subscribers, each primed with the header buffer and
// (if joining mid-stream) the currently open cluster, with timestamps
// rewritten so every subscriber's first cluster reads as Timecode 0.
//
// Grounded on the snapshot-under-lock-then-release-before-I/O pattern of
// internal/rtmp/server/registry.go's Stream.BroadcastMessage, generalized
// from RTMP chunk messages to EBML element spans, and on spec.md §4.2's
// capacity-1-queue-with-forced-disconnect backpressure discipline.
package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alxayo/webmrelay/internal/bufpool"
	"github.com/alxayo/webmrelay/internal/ebml"
	relerrors "github.com/alxayo/webmrelay/internal/errors"
	"github.com/alxayo/webmrelay/internal/hooks"
	"github.com/alxayo/webmrelay/internal/logger"
	"github.com/alxayo/webmrelay/internal/metrics"
	"github.com/google/uuid"
)

const defaultMaxHeaderBytes = 1 << 20 // 1 MiB, per spec.md §5 Resource policy

// Config tunes a Broadcast's resource limits.
type Config struct {
	MaxHeaderBytes  int
	SubscriberDepth int
	Hooks           *hooks.Manager
	Metrics         *metrics.Collector
	Logger          *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = defaultMaxHeaderBytes
	}
	if c.SubscriberDepth <= 0 {
		c.SubscriberDepth = 1
	}
	if c.Logger == nil {
		c.Logger = logger.Logger()
	}
	return c
}

// state mirrors spec.md §4.2's FRESH -> RECEIVING_HEADER -> LIVE -> STOPPED
// state machine.
type state int

const (
	stateFresh state = iota
	stateReceivingHeader
	stateLive
	stateStopped
)

// Broadcast is a single named live stream session: one publisher feeding
// zero or more subscribers.
type Broadcast struct {
	name string
	cfg  Config

	mu    sync.Mutex
	st    state
	p     *ebml.Parser
	subs  map[string]*Subscriber

	header         []byte
	headerOverflow bool
	headerClosed   bool
	clusterPrefix  []byte
	clusterBaseTS  int64
	inCluster      bool

	stoppedCh chan struct{}
	log       *slog.Logger
}

// New starts a fresh Broadcast for name.
func New(name string, cfg Config) *Broadcast {
	cfg = cfg.withDefaults()
	b := &Broadcast{
		name:      name,
		cfg:       cfg,
		st:        stateFresh,
		subs:      make(map[string]*Subscriber),
		stoppedCh: make(chan struct{}),
		log:       logger.WithStream(cfg.Logger, name),
	}
	b.p = ebml.NewParser(b)
	return b
}

// Name returns the stream name this Broadcast serves.
func (b *Broadcast) Name() string { return b.name }

// Send feeds another chunk of publisher bytes through the parser. Parser
// events are dispatched to subscribers synchronously, before Send returns,
// matching spec.md §5's "one send call completes all its events before
// yielding" ordering guarantee.
func (b *Broadcast) Send(chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == stateStopped {
		return relerrors.NewSessionClosed(b.name)
	}
	if b.st == stateFresh {
		b.st = stateReceivingHeader
	}

	if err := b.p.Feed(chunk); err != nil {
		b.log.Warn("rejecting publisher input", "error", err)
		return err
	}
	if b.headerOverflow {
		err := relerrors.NewBadContainer("header exceeded max_header_bytes", nil)
		b.log.Warn("rejecting publisher input", "error", err)
		return err
	}
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.AddBytesRelayed(len(chunk))
	}
	return nil
}

// Connect registers a new subscriber and primes it synchronously per
// spec.md §4.2's Priming section, then returns it for the transport layer to
// drain.
func (b *Broadcast) Connect(skipHeaders bool) *Subscriber {
	id := uuid.NewString()
	sub := newSubscriber(id, b.name, skipHeaders, b.cfg.SubscriberDepth)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == stateStopped {
		sub.close(nil)
		return sub
	}

	// Priming bytes are coalesced into one queue slot: with the default
	// SubscriberDepth of 1, two separate forced sends here would always
	// overflow the second one (nothing has drained the first yet) and
	// disconnect every subscriber that joins mid-cluster before it ever
	// sees a byte.
	// b.header holds every header byte received so far, so a subscriber
	// joining before HeaderClose still starts at the EBML header and gets
	// the rest of the header through HeaderAppend.
	var primer []byte
	if !skipHeaders {
		primer = append(primer, b.header...)
	}
	if b.inCluster {
		sub.tsOffset = b.clusterBaseTS
		sub.tsOffsetSet = true
		prefix := append([]byte(nil), b.clusterPrefix...)
		if err := ebml.RewriteClusterTimecode(prefix, 0); err != nil {
			// Timecode-less cluster: nothing to rewrite, but the subscriber
			// still needs the cluster's own header bytes to stay in sync.
			b.log.Warn("priming subscriber with unrewritten cluster prefix, no Timecode child", "subscriber_id", sub.id, "error", err)
		}
		primer = append(primer, prefix...)
	}
	// Else: sub.tsOffsetSet stays false. Joining between clusters (or before
	// the stream ever opens one) leaves no baseTS to anchor to yet -- the
	// next ClusterBegin anchors it instead, so that cluster reads as 0.
	if len(primer) > 0 {
		b.forceSendLocked(sub, primer)
	}

	b.subs[id] = sub
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.IncActiveSubscribers()
	}
	b.triggerLocked(hooks.EventSubscriberConnect, sub.id, nil)
	b.log.Info("subscriber connected", "subscriber_id", id)
	return sub
}

// Disconnect removes sub from the fan-out set. Idempotent.
func (b *Broadcast) Disconnect(sub *Subscriber) {
	b.mu.Lock()
	_, existed := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()

	if existed {
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.DecActiveSubscribers()
		}
		b.triggerEvent(hooks.EventSubscriberDisconnect, sub.id, nil)
		b.log.Info("subscriber disconnected", "subscriber_id", sub.id)
	}
}

// Stop marks the Broadcast stopped and wakes every subscriber's body writer.
// Idempotent.
func (b *Broadcast) Stop() {
	b.mu.Lock()
	if b.st == stateStopped {
		b.mu.Unlock()
		return
	}
	b.st = stateStopped
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.close(nil)
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.DecActiveSubscribers()
		}
	}
	close(b.stoppedCh)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.DecActiveStreams()
	}
	b.log.Info("broadcast stopped")
}

// WaitStopped returns a channel closed once Stop has run.
func (b *Broadcast) WaitStopped() <-chan struct{} { return b.stoppedCh }

// Stopped reports whether Stop has already run.
func (b *Broadcast) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st == stateStopped
}

// SubscriberCount returns the current number of attached subscribers.
func (b *Broadcast) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcast) triggerEvent(t hooks.EventType, subscriberID string, data map[string]interface{}) {
	b.mu.Lock()
	b.triggerLocked(t, subscriberID, data)
	b.mu.Unlock()
}

func (b *Broadcast) triggerLocked(t hooks.EventType, subscriberID string, data map[string]interface{}) {
	if b.cfg.Hooks == nil {
		return
	}
	ev := hooks.NewEvent(t).WithStreamName(b.name)
	if subscriberID != "" {
		ev = ev.WithSubscriberID(subscriberID)
	}
	for k, v := range data {
		ev = ev.WithData(k, v)
	}
	b.cfg.Hooks.TriggerEvent(context.Background(), *ev)
}

// forceSendLocked enqueues p, disconnecting the subscriber on overflow. Must
// be called with b.mu held.
func (b *Broadcast) forceSendLocked(sub *Subscriber, p []byte) {
	select {
	case sub.queue <- p:
	default:
		delete(b.subs, sub.id)
		err := relerrors.NewSubscriberOverflow(b.name, sub.id)
		sub.close(err)
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.IncSubscriberOverflow()
			b.cfg.Metrics.DecActiveSubscribers()
		}
		b.triggerLocked(hooks.EventSubscriberOverflow, sub.id, nil)
		b.log.Warn("subscriber overflowed on forced element, disconnecting", "subscriber_id", sub.id)
	}
}

// trySendLocked enqueues p, dropping silently on a full queue (cluster-body
// bytes are non-forceable per spec.md §4.2). p is always a bufpool buffer
// from ClusterBody, its only caller, so a dropped p is returned to the pool
// instead of left for the GC. Must be called with b.mu held.
func (b *Broadcast) trySendLocked(sub *Subscriber, p []byte) {
	select {
	case sub.queue <- p:
	default:
		bufpool.Put(p)
	}
}

// --- ebml.Handler implementation. All methods are invoked synchronously
// from within Send, which already holds b.mu. ---

func (b *Broadcast) HeaderAppend(p []byte) {
	if b.headerOverflow {
		return
	}
	if len(b.header)+len(p) > b.cfg.MaxHeaderBytes {
		b.headerOverflow = true
		return
	}
	b.header = append(b.header, p...)
	for _, s := range b.subs {
		if !s.skipHeaders {
			b.forceSendLocked(s, append([]byte(nil), p...))
		}
	}
}

func (b *Broadcast) HeaderClose() {
	b.headerClosed = true
	b.st = stateLive
}

func (b *Broadcast) ClusterBegin(prefix []byte, baseTS int64) {
	b.clusterPrefix = append([]byte(nil), prefix...)
	b.clusterBaseTS = baseTS
	b.inCluster = true

	for _, s := range b.subs {
		if !s.tsOffsetSet {
			// Joined between clusters: anchor to this cluster so it's the
			// one that reads as timecode 0 for this subscriber.
			s.tsOffset = baseTS
			s.tsOffsetSet = true
		}
		out := append([]byte(nil), prefix...)
		if err := ebml.RewriteClusterTimecode(out, baseTS-s.tsOffset); err != nil {
			// Timecode-less cluster: forward the prefix unrewritten rather
			// than silently dropping the cluster-begin bytes.
			b.log.Warn("sending unrewritten cluster prefix, no Timecode child", "subscriber_id", s.id, "error", err)
		}
		b.forceSendLocked(s, out)
	}
}

// ClusterBody is the hot path (called for each cluster child's id+size
// header and again for its payload, which may itself arrive in pieces): each
// subscriber gets its own pooled copy so the transport writer can return it
// with Release once written, instead of growing the GC's churn per frame.
func (b *Broadcast) ClusterBody(p []byte) {
	for _, s := range b.subs {
		cp := bufpool.Get(len(p))
		copy(cp, p)
		b.trySendLocked(s, cp)
	}
}

// Release returns a chunk obtained from a Subscriber's Queue to the shared
// buffer pool. Safe to call on any chunk; chunks not sized to a pool class
// are silently discarded rather than pooled.
func Release(chunk []byte) {
	bufpool.Put(chunk)
}

func (b *Broadcast) ClusterEnd() {
	b.inCluster = false
	b.clusterPrefix = nil
}

func (b *Broadcast) Trailer(p []byte) {
	for _, s := range b.subs {
		b.forceSendLocked(s, append([]byte(nil), p...))
	}
}

