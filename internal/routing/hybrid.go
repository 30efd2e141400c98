package routing

import "time"

// floodFallbackThreshold is the minimum eligible-peer count below which
// Hybrid abandons epidemic dissemination and floods instead — the mesh is
// too sparse for gossip's convergence guarantees to hold.
const floodFallbackThreshold = 2

// HybridRouter disseminates via Gossip and falls back to Flood when the
// local neighborhood is too sparse for gossip to converge reliably (spec
// §4.6).
type HybridRouter struct {
	gossip *GossipRouter
	flood  *FloodRouter
}

func NewHybridRouter(cfg GossipConfig, seed int64) *HybridRouter {
	return &HybridRouter{
		gossip: NewGossipRouter(cfg, seed),
		flood:  NewFloodRouter(),
	}
}

func (r *HybridRouter) Mode() Mode { return ModeHybrid }

func (r *HybridRouter) SelectForwardTargets(fingerprint [32]byte, inboundPeerID string, candidates []Candidate, now time.Time) []string {
	elig := eligible(inboundPeerID, candidates)
	if len(elig) < floodFallbackThreshold {
		return r.flood.SelectForwardTargets(fingerprint, inboundPeerID, candidates, now)
	}
	return r.gossip.SelectForwardTargets(fingerprint, inboundPeerID, candidates, now)
}

// Tick delegates to the embedded GossipRouter's periodic push-pull round.
func (r *HybridRouter) Tick(now time.Time, candidates []Candidate) []GossipAction {
	return r.gossip.Tick(now, candidates)
}

// PreferredNextHop picks the best of candidates for a destination's route
// hint, applying Hybrid's tie-break order: health, then latency, then
// reputation, then a stable random choice (spec §4.6).
func PreferredNextHop(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if BetterNextHop(c, best) {
			best = c
		}
	}
	return best, true
}
