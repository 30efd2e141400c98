package store

import (
	"context"
	"sync"
	"time"
)

// MemoryAdapter is an in-memory reference implementation of Adapter. It is
// the default adapter for tests and for nodes that accept losing state on
// restart.
type MemoryAdapter struct {
	mu sync.RWMutex

	messages   map[string]QueuedMessage
	identities map[string]IdentityRecord
	peers      map[string]PeerRecord
	routes     map[string]RouteRecord
	sessions   map[string]SessionKeyRecord
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		messages:   make(map[string]QueuedMessage),
		identities: make(map[string]IdentityRecord),
		peers:      make(map[string]PeerRecord),
		routes:     make(map[string]RouteRecord),
		sessions:   make(map[string]SessionKeyRecord),
	}
}

func (a *MemoryAdapter) SaveMessage(_ context.Context, msg QueuedMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages[msg.ID] = msg
	return nil
}

func (a *MemoryAdapter) GetMessage(_ context.Context, id string) (QueuedMessage, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.messages[id]
	if !ok {
		return QueuedMessage{}, ErrNotFound
	}
	return m, nil
}

func (a *MemoryAdapter) RemoveMessage(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.messages, id)
	return nil
}

func (a *MemoryAdapter) ScanMessages(_ context.Context) ([]QueuedMessage, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]QueuedMessage, 0, len(a.messages))
	for _, m := range a.messages {
		out = append(out, m)
	}
	return out, nil
}

func (a *MemoryAdapter) PruneExpired(_ context.Context, now time.Time, maxAge time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pruned := 0
	for id, m := range a.messages {
		if now.Sub(m.EnqueuedAt) > maxAge {
			delete(a.messages, id)
			pruned++
		}
	}
	return pruned, nil
}

func (a *MemoryAdapter) Size(_ context.Context) (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return uint64(len(a.messages)), nil
}

func (a *MemoryAdapter) UpsertIdentity(_ context.Context, id IdentityRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identities[id.PeerID] = id
	return nil
}

func (a *MemoryAdapter) GetPrimaryIdentity(_ context.Context) (IdentityRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, id := range a.identities {
		if id.IsPrimary {
			return id, nil
		}
	}
	return IdentityRecord{}, ErrNotFound
}

func (a *MemoryAdapter) ListIdentities(_ context.Context) ([]IdentityRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]IdentityRecord, 0, len(a.identities))
	for _, id := range a.identities {
		out = append(out, id)
	}
	return out, nil
}

func (a *MemoryAdapter) DeleteIdentity(_ context.Context, peerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.identities, peerID)
	return nil
}

func (a *MemoryAdapter) UpsertPeer(_ context.Context, p PeerRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peers[p.PeerID] = p
	return nil
}

func (a *MemoryAdapter) GetPeer(_ context.Context, peerID string) (PeerRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.peers[peerID]
	if !ok {
		return PeerRecord{}, ErrNotFound
	}
	return p, nil
}

func (a *MemoryAdapter) ActivePeers(_ context.Context, cutoff time.Time) ([]PeerRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]PeerRecord, 0)
	for _, p := range a.peers {
		if p.LastSeen.After(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (a *MemoryAdapter) BlacklistPeer(_ context.Context, peerID string, until time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.peers[peerID]
	if !ok {
		return ErrNotFound
	}
	p.IsBlacklisted = true
	p.BlacklistedUntil = until
	a.peers[peerID] = p
	return nil
}

func (a *MemoryAdapter) DeletePeer(_ context.Context, peerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.peers, peerID)
	return nil
}

func (a *MemoryAdapter) PutRoute(_ context.Context, r RouteRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes[r.DestinationID] = r
	return nil
}

func (a *MemoryAdapter) GetRoute(_ context.Context, destinationID string) (RouteRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.routes[destinationID]
	if !ok {
		return RouteRecord{}, ErrNotFound
	}
	return r, nil
}

func (a *MemoryAdapter) ListRoutes(_ context.Context) ([]RouteRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]RouteRecord, 0, len(a.routes))
	for _, r := range a.routes {
		out = append(out, r)
	}
	return out, nil
}

func (a *MemoryAdapter) DeleteExpiredRoutes(_ context.Context, now time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	deleted := 0
	for id, r := range a.routes {
		if r.LastUpdated.Add(time.Duration(r.TTLSeconds) * time.Second).Before(now) {
			delete(a.routes, id)
			deleted++
		}
	}
	return deleted, nil
}

func (a *MemoryAdapter) PutSessionKey(_ context.Context, s SessionKeyRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[s.PeerID] = s
	return nil
}

func (a *MemoryAdapter) GetSessionKey(_ context.Context, peerID string) (SessionKeyRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[peerID]
	if !ok {
		return SessionKeyRecord{}, ErrNotFound
	}
	return s, nil
}

func (a *MemoryAdapter) DeleteSessionKey(_ context.Context, peerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, peerID)
	return nil
}

func (a *MemoryAdapter) DeleteExpiredSessionKeys(_ context.Context, now time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	deleted := 0
	for id, s := range a.sessions {
		if s.ExpiresAt.Before(now) {
			delete(a.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (a *MemoryAdapter) ExportAll(_ context.Context) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return marshalExportSnapshot(a.messages, a.identities, a.peers, a.routes)
}

func (a *MemoryAdapter) ImportAll(_ context.Context, data []byte, strategy ImportStrategy) (ImportResult, error) {
	snap, err := unmarshalSnapshot(data)
	if err != nil {
		return ImportResult{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return applySnapshot(snap, strategy, a.messages, a.identities, a.peers, a.routes, a.sessions), nil
}

func (a *MemoryAdapter) Wipe(_ context.Context, confirmToken string) error {
	if confirmToken != WipeConfirmToken {
		return ErrWipeNotConfirmed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = make(map[string]QueuedMessage)
	a.identities = make(map[string]IdentityRecord)
	a.peers = make(map[string]PeerRecord)
	a.routes = make(map[string]RouteRecord)
	a.sessions = make(map[string]SessionKeyRecord)
	return nil
}
