// Package routing implements the routing core (C6): Flood, Gossip and
// Hybrid dissemination modes over connected peers, plus a Kademlia-style
// iterative lookup used by the discovery collaborator to translate a peer
// id into reachable endpoints (spec §4.6). Routing of application messages
// stays entirely within Flood/Gossip/Hybrid; Kademlia here never touches
// application payloads.
package routing

import (
	"math/rand"
	"time"
)

// Mode selects the dissemination strategy (spec §4.6).
type Mode int

const (
	ModeFlood Mode = iota
	ModeGossip
	ModeHybrid
)

func (m Mode) String() string {
	switch m {
	case ModeFlood:
		return "flood"
	case ModeGossip:
		return "gossip"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Candidate is the read-only view of a connected peer a Router needs to
// make a forwarding decision. It is a narrow projection of registry.Peer so
// this package has no dependency on the registry's storage concerns.
type Candidate struct {
	PeerID     string
	HealthScore int
	LatencyMs   float64
	Reputation  int
	Allowed     bool // false if rate-limited or blacklisted; never a forward target
}

// Router decides, for one inbound envelope, which connected peers to
// forward it to.
type Router interface {
	Mode() Mode
	// SelectForwardTargets returns the peer ids to forward to, excluding
	// inboundPeerID (the peer the envelope arrived from) and any candidate
	// with Allowed == false.
	SelectForwardTargets(fingerprint [32]byte, inboundPeerID string, candidates []Candidate, now time.Time) []string
}

// eligible filters out the inbound peer and any disallowed candidate.
func eligible(inboundPeerID string, candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.PeerID == inboundPeerID || !c.Allowed {
			continue
		}
		out = append(out, c)
	}
	return out
}

// pickRandom returns up to n candidates chosen uniformly at random without
// replacement, using rnd for selection.
func pickRandom(candidates []Candidate, n int, rnd *rand.Rand) []Candidate {
	if n >= len(candidates) {
		out := make([]Candidate, len(candidates))
		copy(out, candidates)
		return out
	}
	shuffled := make([]Candidate, len(candidates))
	copy(shuffled, candidates)
	rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}

// BetterNextHop implements Hybrid's tie-break order (spec §4.6):
// higher health wins, then lower latency, then higher reputation, then a
// random-but-stable choice (by peer id, to avoid flapping between calls).
func BetterNextHop(a, b Candidate) bool {
	if a.HealthScore != b.HealthScore {
		return a.HealthScore > b.HealthScore
	}
	if a.LatencyMs != b.LatencyMs {
		return a.LatencyMs < b.LatencyMs
	}
	if a.Reputation != b.Reputation {
		return a.Reputation > b.Reputation
	}
	return a.PeerID < b.PeerID
}
