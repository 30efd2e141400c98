package routing

import "time"

// FloodRouter forwards to every eligible connected peer except the inbound
// one. Termination relies entirely on dedup+TTL (spec §4.6); Flood is the
// correctness-floor mode every deployment must support.
type FloodRouter struct{}

func NewFloodRouter() *FloodRouter { return &FloodRouter{} }

func (r *FloodRouter) Mode() Mode { return ModeFlood }

func (r *FloodRouter) SelectForwardTargets(_ [32]byte, inboundPeerID string, candidates []Candidate, _ time.Time) []string {
	elig := eligible(inboundPeerID, candidates)
	out := make([]string, len(elig))
	for i, c := range elig {
		out[i] = c.PeerID
	}
	return out
}
