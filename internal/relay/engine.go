package relay

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"meshcore/internal/dedup"
	"meshcore/internal/identity"
	"meshcore/internal/meshcrypto"
	"meshcore/internal/registry"
	"meshcore/internal/routing"
	"meshcore/internal/session"
	"meshcore/internal/store"
	"meshcore/internal/wire"
)

// Sender abstracts the transport layer (C9) this engine forwards frames
// through. One connected link per peer id; higher layers own reconnection.
type Sender interface {
	SendTo(ctx context.Context, peerID string, raw []byte) error
	Connected(peerID string) bool
	ConnectedPeerIDs() []string
}

// Engine is the central state machine of spec §4.7: the inbound frame
// pipeline and the locally originated send path, wired to every other
// component.
type Engine struct {
	Identity *identity.Manager
	Sessions *session.Manager
	Registry *registry.Registry
	Dedup    *dedup.Set
	Router   routing.Router
	Store    store.Adapter
	Sender   Sender

	DefaultTTL uint8

	OnMessage       func(senderID string, payload []byte)
	OnSecurityEvent func(ev session.SecurityEvent)

	decodeOpts wire.DecodeOptions
}

// NewEngine wires an Engine from its dependencies. Inbound frames are
// decoded with wire.Decode's defaults (spec §4.3's 5-minute skew,
// MaxTTL=10); the decodeOpts field is not set here and not read.
func NewEngine(id *identity.Manager, sessions *session.Manager, reg *registry.Registry, dd *dedup.Set, router routing.Router, st store.Adapter, sender Sender) *Engine {
	return &Engine{
		Identity:   id,
		Sessions:   sessions,
		Registry:   reg,
		Dedup:      dd,
		Router:     router,
		Store:      st,
		Sender:     sender,
		DefaultTTL: wire.MaxTTL,
	}
}

// sharedSecretWith computes this node's ECDH shared secret with the
// Ed25519 peer public key peerPub, converting both keys to X25519 form
// (spec §4.1).
func (e *Engine) sharedSecretWith(peerPub [32]byte) ([]byte, error) {
	selfPriv, err := e.Identity.PrivateKeyForECDH()
	if err != nil {
		return nil, err
	}
	selfX25519, err := meshcrypto.Ed25519PrivateToX25519(selfPriv)
	if err != nil {
		return nil, err
	}
	peerX25519, err := meshcrypto.Ed25519PublicToX25519(ed25519.PublicKey(peerPub[:]))
	if err != nil {
		return nil, err
	}
	return meshcrypto.ECDH(selfX25519, peerX25519)
}

// emitSecurity forwards a session-layer SecurityEvent to the configured
// observer, if any.
func (e *Engine) emitSecurity(ev session.SecurityEvent) {
	if e.OnSecurityEvent != nil {
		e.OnSecurityEvent(ev)
	}
}

// tryDeliverLocally implements steps 6 of spec §4.7's pipeline: it returns
// handled=true if this frame was processed as destined for this node
// (either a KEY_EXCHANGE establishing a session, or an application payload
// this node could decrypt).
func (e *Engine) tryDeliverLocally(ctx context.Context, senderID string, env wire.Envelope, now time.Time) (handled bool, plaintext []byte, err error) {
	if env.Header.Type == wire.TypeKeyExchange {
		secret, derr := e.sharedSecretWith(env.Header.SenderPublicKey)
		if derr != nil {
			return true, nil, derr
		}
		_, err = e.Sessions.Establish(ctx, senderID, secret, false, now)
		return true, nil, err
	}

	if _, err := e.Sessions.Get(ctx, senderID, false); err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			return false, nil, nil
		}
		return false, nil, err
	}

	if len(env.Payload) < meshcrypto.NonceSize {
		return true, nil, ErrNoSession
	}
	nonce := env.Payload[:meshcrypto.NonceSize]
	ciphertext := env.Payload[meshcrypto.NonceSize:]

	secret, derr := e.sharedSecretWith(env.Header.SenderPublicKey)
	if derr != nil {
		return true, nil, derr
	}
	pt, err := e.Sessions.Decrypt(ctx, senderID, secret, false, nonce, ciphertext, env.Header.AAD())
	if err != nil {
		return true, nil, err
	}
	return true, pt, nil
}

// buildCandidates snapshots connected peers into routing.Candidate values.
func (e *Engine) buildCandidates(now time.Time) []routing.Candidate {
	ids := e.Sender.ConnectedPeerIDs()
	out := make([]routing.Candidate, 0, len(ids))
	for _, id := range ids {
		p, err := e.Registry.Get(id)
		if err != nil {
			out = append(out, routing.Candidate{PeerID: id, Allowed: true})
			continue
		}
		allowed := !e.Registry.IsBlacklisted(id, now)
		out = append(out, routing.Candidate{
			PeerID:      id,
			HealthScore: p.HealthScore,
			Reputation:  p.ReputationScore,
			Allowed:     allowed,
		})
	}
	return out
}

// HandleInbound runs one frame through the pipeline of spec §4.7.
func (e *Engine) HandleInbound(ctx context.Context, inboundPeerID string, raw []byte, now time.Time) (HandleResult, error) {
	env, err := wire.Decode(raw)
	if err != nil {
		_ = e.Registry.AdjustReputation(inboundPeerID, registry.DeltaProtocolViolationMin, now)
		return HandleResult{Outcome: OutcomeDropped, DropReason: DropDecodeError}, nil
	}

	if e.Registry.IsBlacklisted(inboundPeerID, now) {
		return HandleResult{Outcome: OutcomeDropped, DropReason: DropBlacklisted}, nil
	}

	if !e.Registry.TryConsumeInbound(inboundPeerID, now) {
		return HandleResult{Outcome: OutcomeDropped, DropReason: DropRateLimited}, nil
	}

	senderID, err := identity.BuildPeerID(env.Header.SenderPublicKey[:])
	if err != nil {
		return HandleResult{Outcome: OutcomeDropped, DropReason: DropDecodeError}, nil
	}

	signedBytes := env.Header.SignedBytes(env.Payload)
	if !meshcrypto.Verify(env.Header.Signature[:], signedBytes, env.Header.SenderPublicKey[:]) {
		_ = e.Registry.AdjustReputation(senderID, registry.DeltaInvalidSignature, now)
		return HandleResult{Outcome: OutcomeDropped, DropReason: DropInvalidSignature, SenderID: senderID}, nil
	}

	fingerprint := wire.Fingerprint(raw)
	if e.Dedup.Observe(fingerprint, now) {
		return HandleResult{Outcome: OutcomeDropped, DropReason: DropDuplicate, SenderID: senderID}, nil
	}

	_ = e.Registry.AdjustReputation(senderID, registry.DeltaValidMessage, now)
	_ = e.Registry.RecordBytes(inboundPeerID, uint64(len(raw)), 0, now)

	handled, plaintext, derr := e.tryDeliverLocally(ctx, senderID, env, now)
	if handled {
		if derr != nil {
			if errors.Is(derr, session.ErrNonceReplayed) {
				e.emitSecurity(session.SecurityEvent{Kind: session.SecurityEventNonceReuse, PeerID: senderID, At: now})
			}
			return HandleResult{Outcome: OutcomeDropped, DropReason: DropNoSession, SenderID: senderID}, derr
		}
		if env.Header.Type == wire.TypeKeyExchange {
			return HandleResult{Outcome: OutcomeSessionEstablished, SenderID: senderID}, nil
		}
		if e.OnMessage != nil {
			e.OnMessage(senderID, plaintext)
		}
		return HandleResult{Outcome: OutcomeDeliveredLocally, Plaintext: plaintext, SenderID: senderID}, nil
	}

	// TTL==1 is exhausted by the very act of forwarding: the hop that would
	// decrement it to 0 never happens, so a message that needs one relay hop
	// but carries only one unit of TTL is dropped here rather than handed on
	// with TTL=0 (spec §8 S4).
	if env.Header.TTL <= 1 {
		return HandleResult{Outcome: OutcomeDropped, DropReason: DropTTLExpired, SenderID: senderID}, nil
	}

	candidates := e.buildCandidates(now)
	targets := e.Router.SelectForwardTargets(fingerprint, inboundPeerID, candidates, now)

	forwardEnv := env
	forwardEnv.Header.TTL--
	outRaw, encErr := wire.Encode(forwardEnv)
	forwarded := make([]string, 0, len(targets))
	if encErr == nil {
		for _, target := range targets {
			if !e.Registry.TryConsumeOutbound(target, now) {
				continue
			}
			if sendErr := e.Sender.SendTo(ctx, target, outRaw); sendErr == nil {
				forwarded = append(forwarded, target)
			}
		}
	}

	hopsTraveled := int(e.DefaultTTL) - int(env.Header.TTL)
	_ = e.Store.PutRoute(ctx, store.RouteRecord{
		DestinationID: senderID,
		NextHopID:     inboundPeerID,
		Cost:          float64(hopsTraveled),
		LastUpdated:   now,
		TTLSeconds:    int(routing.DefaultGossipConfig().MaxMessageAge.Seconds()) * 10,
	})

	return HandleResult{Outcome: OutcomeForwarded, ForwardedTo: forwarded, SenderID: senderID}, nil
}
