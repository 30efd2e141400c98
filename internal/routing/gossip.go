package routing

import (
	"math/rand"
	"sync"
	"time"
)

// GossipConfig tunes the push-pull epidemic parameters of spec §4.6.
type GossipConfig struct {
	Fanout         int
	PushRatio      float64
	GossipInterval time.Duration
	MaxMessageAge  time.Duration
}

// DefaultGossipConfig returns spec §4.6's stated defaults.
func DefaultGossipConfig() GossipConfig {
	return GossipConfig{
		Fanout:         4,
		PushRatio:      0.7,
		GossipInterval: time.Second,
		MaxMessageAge:  60 * time.Second,
	}
}

// GossipActionKind distinguishes a push round (send messages the peer is
// believed to be missing) from a pull round (send a digest so the peer can
// tell us what we're missing).
type GossipActionKind int

const (
	GossipPush GossipActionKind = iota
	GossipPull
)

// GossipAction is one outcome of a Tick: what to send to which peer. Tick
// performs no network I/O, and no caller in this module (the relay engine
// and core included) sends these actions.
type GossipAction struct {
	PeerID       string
	Kind         GossipActionKind
	Fingerprints [][32]byte
}

// GossipRouter implements the push-pull epidemic dissemination mode (spec
// §4.6). On receipt of a novel envelope it immediately informs a random
// fanout of peers; Tick runs the periodic push-or-pull round against
// another random sample, for anti-entropy convergence.
type GossipRouter struct {
	mu  sync.Mutex
	cfg GossipConfig
	rnd *rand.Rand

	seen       map[[32]byte]time.Time
	lastPushTo map[string]time.Time
}

// NewGossipRouter constructs a GossipRouter. seed controls the random
// fanout selection and push/pull coin flips; callers wanting reproducible
// behavior (tests, simulations) pass a fixed seed.
func NewGossipRouter(cfg GossipConfig, seed int64) *GossipRouter {
	return &GossipRouter{
		cfg:        cfg,
		rnd:        rand.New(rand.NewSource(seed)),
		seen:       make(map[[32]byte]time.Time),
		lastPushTo: make(map[string]time.Time),
	}
}

func (r *GossipRouter) Mode() Mode { return ModeGossip }

// SelectForwardTargets records the fingerprint in the local push set and
// immediately informs up to cfg.Fanout random eligible peers.
func (r *GossipRouter) SelectForwardTargets(fingerprint [32]byte, inboundPeerID string, candidates []Candidate, now time.Time) []string {
	r.mu.Lock()
	r.seen[fingerprint] = now
	r.mu.Unlock()

	elig := eligible(inboundPeerID, candidates)
	chosen := pickRandom(elig, r.cfg.Fanout, r.rnd)
	out := make([]string, len(chosen))
	for i, c := range chosen {
		out[i] = c.PeerID
	}
	return out
}

// Tick ages out entries older than cfg.MaxMessageAge and runs one push-pull
// round against a fresh random sample of candidates.
func (r *GossipRouter) Tick(now time.Time, candidates []Candidate) []GossipAction {
	r.mu.Lock()
	defer r.mu.Unlock()

	for fp, t := range r.seen {
		if now.Sub(t) > r.cfg.MaxMessageAge {
			delete(r.seen, fp)
		}
	}

	elig := eligible("", candidates)
	chosen := pickRandom(elig, r.cfg.Fanout, r.rnd)
	actions := make([]GossipAction, 0, len(chosen))
	for _, c := range chosen {
		if r.rnd.Float64() < r.cfg.PushRatio {
			actions = append(actions, GossipAction{
				PeerID:       c.PeerID,
				Kind:         GossipPush,
				Fingerprints: r.fingerprintsNewerThanLocked(c.PeerID),
			})
			r.lastPushTo[c.PeerID] = now
		} else {
			actions = append(actions, GossipAction{
				PeerID:       c.PeerID,
				Kind:         GossipPull,
				Fingerprints: r.digestLocked(),
			})
		}
	}
	return actions
}

func (r *GossipRouter) fingerprintsNewerThanLocked(peerID string) [][32]byte {
	last, ok := r.lastPushTo[peerID]
	out := make([][32]byte, 0, len(r.seen))
	for fp, t := range r.seen {
		if !ok || t.After(last) {
			out = append(out, fp)
		}
	}
	return out
}

func (r *GossipRouter) digestLocked() [][32]byte {
	out := make([][32]byte, 0, len(r.seen))
	for fp := range r.seen {
		out = append(out, fp)
	}
	return out
}
