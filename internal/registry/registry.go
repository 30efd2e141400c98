package registry

import (
	"errors"
	"sync"
	"time"

	"meshcore/internal/platform/ratelimiter"
)

var ErrPeerNotFound = errors.New("registry: peer not found")

// Rate limiter budgets per spec §4.5.
const (
	inboundCapacity   = 100
	inboundRefillMin  = 100
	outboundCapacity  = 200
	outboundRefillMin = 200
	connCapacity      = 10
	connRefillMin     = 10

	limiterIdleTTL = 10 * time.Minute
)

// Registry owns every known Peer plus the rate limiters and health tracking
// bound to them (spec §4.5). Zero value is not usable; use New.
type Registry struct {
	mu     sync.RWMutex
	peers  map[string]*Peer
	health map[string]*healthEWMA

	inboundLimiter  *ratelimiter.MapLimiter
	outboundLimiter *ratelimiter.MapLimiter
	connLimiter     *ratelimiter.MapLimiter
}

func New() *Registry {
	return &Registry{
		peers:           make(map[string]*Peer),
		health:          make(map[string]*healthEWMA),
		inboundLimiter:  ratelimiter.New(inboundRefillMin/60.0, inboundCapacity, limiterIdleTTL),
		outboundLimiter: ratelimiter.New(outboundRefillMin/60.0, outboundCapacity, limiterIdleTTL),
		connLimiter:     ratelimiter.New(connRefillMin/60.0, connCapacity, limiterIdleTTL),
	}
}

// Upsert inserts or merges peer link state. For an already-known peer,
// FirstSeen and the blacklist strike count are preserved and LastSeen never
// moves backwards; everything else is overwritten by the caller-supplied
// value. ReputationScore defaults to ReputationInitial for a brand-new peer.
func (r *Registry) Upsert(p Peer) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.peers[p.PeerID]
	if !ok {
		if p.ReputationScore == 0 {
			p.ReputationScore = ReputationInitial
		}
		if p.FirstSeen.IsZero() {
			p.FirstSeen = p.LastSeen
		}
		stored := p.clone()
		r.peers[p.PeerID] = stored
		return stored.clone()
	}

	p.FirstSeen = existing.FirstSeen
	p.blacklistStrikes = existing.blacklistStrikes
	if p.LastSeen.Before(existing.LastSeen) {
		p.LastSeen = existing.LastSeen
	}
	stored := p.clone()
	r.peers[p.PeerID] = stored
	return stored.clone()
}

// Get returns a copy of the peer record for id.
func (r *Registry) Get(id string) (Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	if !ok {
		return Peer{}, ErrPeerNotFound
	}
	return *p, nil
}

// ActivePeers returns every peer whose LastSeen is at or after the cutoff
// implied by maxAge (now - maxAge), excluding blacklisted peers.
func (r *Registry) ActivePeers(now time.Time, maxAge time.Duration) []Peer {
	cutoff := now.Add(-maxAge)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.IsBlacklisted && now.Before(p.BlacklistedUntil) {
			continue
		}
		if !p.LastSeen.Before(cutoff) {
			out = append(out, *p)
		}
	}
	return out
}

// Blacklist marks id blacklisted until now+duration, explicitly (e.g. an
// operator action), independent of the reputation-triggered auto-blacklist.
func (r *Registry) Blacklist(id string, now time.Time, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return ErrPeerNotFound
	}
	p.IsBlacklisted = true
	p.BlacklistedUntil = now.Add(duration)
	p.blacklistStrikes++
	return nil
}

// IsBlacklisted reports whether id is currently blacklisted as of now. A
// peer whose blacklist window has elapsed is implicitly reinstated (spec §3:
// "blacklisted ⇒ no inbound/outbound message processing until deadline").
func (r *Registry) IsBlacklisted(id string, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	if !ok {
		return false
	}
	return p.IsBlacklisted && now.Before(p.BlacklistedUntil)
}

// AdjustReputation applies delta to id's reputation (clamped to
// [ReputationMin, ReputationMax]) and auto-blacklists the peer, with a
// doubling duration per subsequent trigger, if the result falls below
// ReputationBlacklistThreshold (spec §4.5).
func (r *Registry) AdjustReputation(id string, delta int, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return ErrPeerNotFound
	}
	p.ReputationScore = clampReputation(p.ReputationScore + delta)
	if p.ReputationScore < ReputationBlacklistThreshold {
		dur := blacklistDuration(p.blacklistStrikes)
		p.IsBlacklisted = true
		p.BlacklistedUntil = now.Add(dur)
		p.blacklistStrikes++
	}
	return nil
}

// RecordHealthSample folds in one latency/loss/uptime observation and
// updates the peer's HealthScore (spec §4.5).
func (r *Registry) RecordHealthSample(id string, lossRate, latencyMs float64, up bool, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return ErrPeerNotFound
	}
	h, ok := r.health[id]
	if !ok {
		h = &healthEWMA{}
		r.health[id] = h
	}
	p.HealthScore = h.observe(lossRate, latencyMs, up, now)
	return nil
}

// TryConsumeInbound reports whether an inbound-message token is available
// for peer id, consuming it if so.
func (r *Registry) TryConsumeInbound(id string, now time.Time) bool {
	return r.inboundLimiter.Allow(id, now)
}

// TryConsumeOutbound reports whether an outbound-relay token is available
// for peer id, consuming it if so.
func (r *Registry) TryConsumeOutbound(id string, now time.Time) bool {
	return r.outboundLimiter.Allow(id, now)
}

// TryConsumeConnection reports whether a connection-attempt token is
// available for peer id, consuming it if so.
func (r *Registry) TryConsumeConnection(id string, now time.Time) bool {
	return r.connLimiter.Allow(id, now)
}

// RecordBytes accumulates transferred byte counts and bumps LastSeen.
func (r *Registry) RecordBytes(id string, in, out uint64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return ErrPeerNotFound
	}
	p.BytesIn += in
	p.BytesOut += out
	if now.After(p.LastSeen) {
		p.LastSeen = now
	}
	return nil
}
