package store

import (
	"encoding/json"
	"fmt"
)

// snapshotVersion is the version field of the export_all JSON object
// (spec §4.8: "JSON object with version=1").
const snapshotVersion = 1

type snapshot struct {
	Version    int                         `json:"version"`
	Messages   map[string]QueuedMessage    `json:"messages"`
	Identities map[string]IdentityRecord   `json:"identities"`
	Peers      map[string]PeerRecord       `json:"peers"`
	Routes     map[string]RouteRecord      `json:"routes"`
	Sessions   map[string]SessionKeyRecord `json:"sessions,omitempty"`
}

// marshalSnapshot serializes the adapter's at-rest state, sessions
// included. Used by the encrypted on-disk path (file.go's persistLocked
// and load) where session key material never leaves the process boundary.
func marshalSnapshot(
	messages map[string]QueuedMessage,
	identities map[string]IdentityRecord,
	peers map[string]PeerRecord,
	routes map[string]RouteRecord,
	sessions map[string]SessionKeyRecord,
) ([]byte, error) {
	s := snapshot{
		Version:    snapshotVersion,
		Messages:   messages,
		Identities: identities,
		Peers:      peers,
		Routes:     routes,
		Sessions:   sessions,
	}
	return json.Marshal(s)
}

// marshalExportSnapshot serializes the user-facing export_all form. Session
// keys (SendKey/RecvKey) are never exported (spec §6): the sessions field
// is always omitted here, regardless of what the adapter holds in memory.
func marshalExportSnapshot(
	messages map[string]QueuedMessage,
	identities map[string]IdentityRecord,
	peers map[string]PeerRecord,
	routes map[string]RouteRecord,
) ([]byte, error) {
	return marshalSnapshot(messages, identities, peers, routes, nil)
}

// unmarshalSnapshot decodes and validates a snapshot. It rejects any
// version other than snapshotVersion (spec §6: "the core validates
// version == 1 and rejects otherwise").
func unmarshalSnapshot(data []byte) (snapshot, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return snapshot{}, err
	}
	if s.Version != snapshotVersion {
		return snapshot{}, fmt.Errorf("store: unsupported snapshot version %d (want %d)", s.Version, snapshotVersion)
	}
	return s, nil
}

// applySnapshot merges snap into the provided maps according to strategy
// and returns a summary. Maps are mutated in place; callers hold the lock.
func applySnapshot(
	snap snapshot,
	strategy ImportStrategy,
	messages map[string]QueuedMessage,
	identities map[string]IdentityRecord,
	peers map[string]PeerRecord,
	routes map[string]RouteRecord,
	sessions map[string]SessionKeyRecord,
) ImportResult {
	var result ImportResult

	for id, m := range snap.Messages {
		if existing, exists := messages[id]; exists {
			switch strategy {
			case ImportSkipExisting:
				result.Skipped++
				continue
			case ImportMerge:
				m = mergeQueuedMessage(existing, m)
			}
		}
		messages[id] = m
		result.Imported++
	}
	for id, rec := range snap.Identities {
		if existing, exists := identities[id]; exists {
			switch strategy {
			case ImportSkipExisting:
				result.Skipped++
				continue
			case ImportMerge:
				rec = mergeIdentityRecord(existing, rec)
			}
		}
		identities[id] = rec
		result.Imported++
	}
	for id, p := range snap.Peers {
		if existing, exists := peers[id]; exists {
			switch strategy {
			case ImportSkipExisting:
				result.Skipped++
				continue
			case ImportMerge:
				p = mergePeerRecord(existing, p)
			}
		}
		peers[id] = p
		result.Imported++
	}
	for id, r := range snap.Routes {
		if existing, exists := routes[id]; exists {
			switch strategy {
			case ImportSkipExisting:
				result.Skipped++
				continue
			case ImportMerge:
				r = mergeRouteRecord(existing, r)
			}
		}
		routes[id] = r
		result.Imported++
	}
	for id, s := range snap.Sessions {
		if existing, exists := sessions[id]; exists {
			switch strategy {
			case ImportSkipExisting:
				result.Skipped++
				continue
			case ImportMerge:
				s = mergeSessionKeyRecord(existing, s)
			}
		}
		sessions[id] = s
		result.Imported++
	}
	return result
}

// mergePeerRecord combines two PeerRecords for the same id without
// clobbering whichever side has made more progress: the earlier first
// contact, the later activity, accumulated traffic counters, and the
// higher of each score (spec §6 example: "keep higher LastSeen/reputation
// on peer collision"). A blacklist on either side sticks.
func mergePeerRecord(existing, incoming PeerRecord) PeerRecord {
	merged := existing
	if incoming.FirstSeen.Before(merged.FirstSeen) {
		merged.FirstSeen = incoming.FirstSeen
	}
	if incoming.LastSeen.After(merged.LastSeen) {
		merged.LastSeen = incoming.LastSeen
	}
	if incoming.ConnectedAt.After(merged.ConnectedAt) {
		merged.ConnectedAt = incoming.ConnectedAt
	}
	merged.BytesIn += incoming.BytesIn
	merged.BytesOut += incoming.BytesOut
	if incoming.ReputationScore > merged.ReputationScore {
		merged.ReputationScore = incoming.ReputationScore
	}
	if incoming.HealthScore > merged.HealthScore {
		merged.HealthScore = incoming.HealthScore
	}
	if incoming.IsBlacklisted {
		merged.IsBlacklisted = true
		if incoming.BlacklistedUntil.After(merged.BlacklistedUntil) {
			merged.BlacklistedUntil = incoming.BlacklistedUntil
		}
	}
	return merged
}

// mergeRouteRecord keeps the route whose cost/latency/success figures were
// measured most recently, since those fields describe a single coherent
// observation and mixing fields from two different observations would
// produce a route quality estimate neither side actually measured.
func mergeRouteRecord(existing, incoming RouteRecord) RouteRecord {
	if incoming.LastUpdated.After(existing.LastUpdated) {
		return incoming
	}
	return existing
}

// mergeQueuedMessage keeps whichever copy has made more delivery progress,
// so a merge can never reset a message's retry backoff to zero.
func mergeQueuedMessage(existing, incoming QueuedMessage) QueuedMessage {
	if incoming.AttemptCount > existing.AttemptCount {
		return incoming
	}
	return existing
}

// mergeIdentityRecord keeps the existing identity's key material (an
// identity's PublicKey/EncryptedSeedEnvelope must never be silently
// replaced by an import) but lets IsPrimary be promoted by the import.
func mergeIdentityRecord(existing, incoming IdentityRecord) IdentityRecord {
	merged := existing
	if incoming.IsPrimary {
		merged.IsPrimary = true
	}
	return merged
}

// mergeSessionKeyRecord keeps whichever session was established more
// recently: an older key is never worth reviving once a newer one exists.
func mergeSessionKeyRecord(existing, incoming SessionKeyRecord) SessionKeyRecord {
	if incoming.EstablishedAt.After(existing.EstablishedAt) {
		return incoming
	}
	return existing
}
