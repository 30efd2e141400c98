// Package core is the control surface of spec §6: a single composition
// root wiring identity, session, registry, dedup, routing, relay, storage
// and transport into Start/Stop/Send plus three observer streams, the way
// the teacher's internal/composition wires its daemon service.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meshcore/internal/corelog"
	"meshcore/internal/dedup"
	"meshcore/internal/identity"
	"meshcore/internal/pqueue"
	"meshcore/internal/registry"
	"meshcore/internal/relay"
	"meshcore/internal/routing"
	"meshcore/internal/session"
	"meshcore/internal/store"
	"meshcore/internal/transport"
)

var (
	ErrAlreadyStarted = errors.New("core: already started")
	ErrNotStarted     = errors.New("core: not started")
)

// Core is the composed node: everything needed to exchange messages with
// the mesh through one Transport backend.
type Core struct {
	cfg Config
	log *slog.Logger

	identityMgr *identity.Manager
	sessions    *session.Manager
	registry    *registry.Registry
	dedupSet    *dedup.Set
	router      routing.Router
	st          store.Adapter
	transport   transport.Transport
	engine      *relay.Engine

	hub     *hub
	metrics *metricsState

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New composes a Core from its dependencies. idMgr and st are supplied by
// the caller (see LoadOrCreateIdentity for the usual way to obtain idMgr);
// tr is the Transport backend this node will drive.
func New(cfg Config, idMgr *identity.Manager, st store.Adapter, tr transport.Transport, log *slog.Logger) *Core {
	cfg = normalizeConfig(cfg)
	if log == nil {
		log = corelog.Default()
	}

	c := &Core{
		cfg:         cfg,
		log:         log,
		identityMgr: idMgr,
		registry:    registry.New(),
		dedupSet:    dedup.New(cfg.DedupCapacity),
		router:      buildRouter(cfg),
		st:          st,
		transport:   tr,
		hub:         newHub(cfg.NotificationBacklog),
		metrics:     newMetricsState(),
	}
	c.sessions = session.NewManager(st, c.handleSecurityEvent)

	sender := transport.NewRelaySender(tr)
	engine := relay.NewEngine(idMgr, c.sessions, c.registry, c.dedupSet, c.router, st, sender)
	engine.OnMessage = c.handleMessage
	engine.OnSecurityEvent = c.handleSecurityEvent
	c.engine = engine

	return c
}

// AddKnownPeer registers a peer's identity and public key, the precondition
// for ever sending to or receiving a session with it. Peer discovery itself
// (how this public key was learned — QR code, contact exchange, PEER_INTRO
// card) is a collaborator this package consumes, not implements (spec §1).
func (c *Core) AddKnownPeer(peerID string, publicKey [32]byte, kind transport.PeerKind, now time.Time) {
	c.registry.Upsert(registry.Peer{
		PeerID:        peerID,
		PublicKey:     publicKey,
		TransportKind: transportKindFor(kind),
		FirstSeen:     now,
		LastSeen:      now,
	})
	_ = c.st.UpsertPeer(context.Background(), store.PeerRecord{
		PeerID:          peerID,
		PublicKey:       publicKey,
		TransportKind:   string(transportKindFor(kind)),
		FirstSeen:       now,
		LastSeen:        now,
		ReputationScore: registry.ReputationInitial,
	})
}

// Start brings the transport up and begins driving the relay engine's
// inbound pipeline and store-and-forward scheduler. Idempotent: a second
// Start before Stop returns ErrAlreadyStarted.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()

	if err := c.transport.Start(runCtx, (*transportEvents)(c)); err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return fmt.Errorf("core: start transport: %w", err)
	}

	c.wg.Add(1)
	go c.tickLoop(runCtx)

	c.log.Info("core started", "peer_id", c.identityMgr.GetIdentity().PeerID, "routing_mode", c.cfg.RoutingMode)
	return nil
}

// Stop tears the node down: cancels the scheduler loop and stops the
// transport. Safe to call once Start has succeeded; a second call is a
// no-op.
func (c *Core) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return c.transport.Stop(ctx)
}

// Send encrypts and transmits plaintext to destinationID, queuing it for
// store-and-forward delivery if the destination isn't currently reachable
// (spec §6's send(), §4.7's outbound state machine).
func (c *Core) Send(ctx context.Context, destinationID string, plaintext []byte, priority pqueue.Priority) (relay.SendResult, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return relay.SendResult{}, ErrNotStarted
	}

	result, err := c.engine.Send(ctx, destinationID, plaintext, priority, time.Now())
	if result.State == relay.SendSent {
		c.metrics.recordSent()
	}
	return result, err
}

// OnMessage registers fn to be called for every payload this node decrypts
// for itself. Returns an unsubscribe function.
func (c *Core) OnMessage(fn func(MessageEvent)) func() { return c.hub.onMessage(fn) }

// OnPeerEvent registers fn to be called on every peer connect/disconnect.
func (c *Core) OnPeerEvent(fn func(PeerEvent)) func() { return c.hub.onPeerEvent(fn) }

// OnSecurityAlert registers fn to be called on every security event the
// relay engine raises (session nonce reuse).
func (c *Core) OnSecurityAlert(fn func(SecurityAlert)) func() { return c.hub.onSecurityAlert(fn) }

// Stats returns a snapshot of this node's operation counters (spec §6's
// stats()).
func (c *Core) Stats(ctx context.Context) Stats {
	queueDepth := uint64(0)
	if pending, err := c.st.ScanMessages(ctx); err == nil {
		queueDepth = uint64(len(pending))
	}
	return c.metrics.snapshot(len(c.transport.ConnectedPeerIDs()), queueDepth)
}

func (c *Core) handleMessage(senderID string, payload []byte) {
	c.hub.publishMessage(MessageEvent{SenderID: senderID, Payload: payload, At: time.Now()})
}

func (c *Core) handleSecurityEvent(ev session.SecurityEvent) {
	c.hub.publishSecurityAlert(SecurityAlert{PeerID: ev.PeerID, Reason: ev.Kind.String(), At: ev.At})
	_ = c.registry.AdjustReputation(ev.PeerID, registry.DeltaSecurityAlert, ev.At)
}

// tickLoop periodically drains the store-and-forward queue (spec §4.7) via
// engine.Tick, until ctx is cancelled by Stop. Gossip state is not aged here.
func (c *Core) tickLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sent, dropped, err := c.engine.Tick(ctx, now)
			if err != nil {
				c.log.Warn("tick failed", "error", err.Error())
				continue
			}
			c.metrics.recordRelayed(sent)
			for i := 0; i < dropped; i++ {
				c.metrics.recordDropped("queue_expired")
			}
			if dropped > 0 {
				c.metrics.recordRetry()
			}
		}
	}
}

// transportEvents adapts Core to transport.Events without exporting its
// internals as a public implementation surface.
type transportEvents Core

func (c *transportEvents) core() *Core { return (*Core)(c) }

func (c *transportEvents) OnPeerConnected(peerID string, kind transport.PeerKind) {
	core := c.core()
	now := time.Now()
	if _, err := core.registry.Get(peerID); err == nil {
		_ = core.registry.AdjustReputation(peerID, 0, now)
	}
	core.hub.publishPeerEvent(PeerEvent{PeerID: peerID, Kind: PeerConnected, At: now})
}

func (c *transportEvents) OnPeerDisconnected(peerID string, _ transport.DisconnectReason) {
	core := c.core()
	core.hub.publishPeerEvent(PeerEvent{PeerID: peerID, Kind: PeerDisconnected, At: time.Now()})
}

func (c *transportEvents) OnFrameReceived(peerID string, raw []byte) {
	core := c.core()
	now := time.Now()
	result, err := core.engine.HandleInbound(context.Background(), peerID, raw, now)
	if err != nil {
		core.log.Debug("handle inbound failed", "peer_id", peerID, "error", err.Error())
	}
	switch result.Outcome {
	case relay.OutcomeForwarded:
		core.metrics.recordRelayed(1)
	case relay.OutcomeDropped:
		if result.DropReason == relay.DropDuplicate {
			core.metrics.recordDedupHit()
		}
		core.metrics.recordDropped(string(result.DropReason))
	}
}
