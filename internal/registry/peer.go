// Package registry implements the peer registry (C5): per-peer link state,
// reputation, blacklisting, rate limiting and health scoring (spec §4.5).
package registry

import "time"

// TransportKind identifies the physical/logical link a peer was reached
// over (spec §3).
type TransportKind string

const (
	TransportWebRTC TransportKind = "webrtc"
	TransportBLE    TransportKind = "ble"
	TransportLocal  TransportKind = "local"
)

const (
	// ReputationMin and ReputationMax bound reputation_score (spec §3).
	ReputationMin     = -100
	ReputationMax     = 100
	ReputationInitial = 50

	// ReputationBlacklistThreshold: below this, a peer is auto-blacklisted
	// (spec §4.5).
	ReputationBlacklistThreshold = 20

	// BlacklistBaseDuration and BlacklistMaxDuration implement the
	// doubling-per-trigger blacklist policy of spec §4.5.
	BlacklistBaseDuration = time.Hour
	BlacklistMaxDuration  = 24 * time.Hour
)

// Reputation deltas applied on the observable events of spec §4.5's table.
const (
	DeltaValidMessage           = 1
	DeltaInvalidSignature       = -15
	DeltaReplayOrDuplicateFlood = -10
	DeltaSpam                   = -10
	DeltaProtocolViolationMin   = -15
	DeltaProtocolViolationMax   = -10
	DeltaSecurityAlert          = -20
)

// Peer is a known remote identity plus link state (spec §3).
type Peer struct {
	PeerID        string
	PublicKey     [32]byte
	TransportKind TransportKind

	FirstSeen   time.Time
	LastSeen    time.Time
	ConnectedAt time.Time

	BytesIn  uint64
	BytesOut uint64

	ReputationScore int
	HealthScore     int

	IsBlacklisted    bool
	BlacklistedUntil time.Time

	blacklistStrikes int
}

func (p *Peer) clone() *Peer {
	cp := *p
	return &cp
}

// blacklistDuration computes the next blacklist duration for this peer,
// doubling per prior strike and capping at BlacklistMaxDuration.
func blacklistDuration(strikes int) time.Duration {
	d := BlacklistBaseDuration
	for i := 0; i < strikes; i++ {
		d *= 2
		if d >= BlacklistMaxDuration {
			return BlacklistMaxDuration
		}
	}
	return d
}

func clampReputation(score int) int {
	if score > ReputationMax {
		return ReputationMax
	}
	if score < ReputationMin {
		return ReputationMin
	}
	return score
}
