package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"meshcore/internal/securestore"
)

// FileAdapter is a file-backed Adapter: an in-memory working set whose full
// encrypted-at-rest snapshot is rewritten with os.WriteFile on every
// mutation. No temporary file, rename or fsync is used.
type FileAdapter struct {
	mu         sync.RWMutex
	path       string
	passphrase string

	messages   map[string]QueuedMessage
	identities map[string]IdentityRecord
	peers      map[string]PeerRecord
	routes     map[string]RouteRecord
	sessions   map[string]SessionKeyRecord
}

// NewFileAdapter opens (or creates) an encrypted snapshot at path, using
// passphrase to derive the at-rest key via securestore.
func NewFileAdapter(path, passphrase string) (*FileAdapter, error) {
	a := &FileAdapter{
		path:       path,
		passphrase: passphrase,
		messages:   make(map[string]QueuedMessage),
		identities: make(map[string]IdentityRecord),
		peers:      make(map[string]PeerRecord),
		routes:     make(map[string]RouteRecord),
		sessions:   make(map[string]SessionKeyRecord),
	}
	if err := a.load(); err != nil {
		return nil, &ErrPersistence{Op: "load", Err: err}
	}
	return a, nil
}

func (a *FileAdapter) load() error {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	decoded, err := securestore.Decrypt(a.passphrase, data)
	if err != nil {
		return err
	}
	snap, err := unmarshalSnapshot(decoded)
	if err != nil {
		return err
	}
	if snap.Messages != nil {
		a.messages = snap.Messages
	}
	if snap.Identities != nil {
		a.identities = snap.Identities
	}
	if snap.Peers != nil {
		a.peers = snap.Peers
	}
	if snap.Routes != nil {
		a.routes = snap.Routes
	}
	if snap.Sessions != nil {
		a.sessions = snap.Sessions
	}
	return nil
}

// persistLocked writes the full snapshot to disk. Caller must hold a.mu.
func (a *FileAdapter) persistLocked() error {
	raw, err := marshalSnapshot(a.messages, a.identities, a.peers, a.routes, a.sessions)
	if err != nil {
		return err
	}
	encrypted, err := securestore.Encrypt(a.passphrase, raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(a.path, encrypted, 0o600)
}

func (a *FileAdapter) SaveMessage(_ context.Context, msg QueuedMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages[msg.ID] = msg
	if err := a.persistLocked(); err != nil {
		return &ErrPersistence{Op: "SaveMessage", Err: err}
	}
	return nil
}

func (a *FileAdapter) GetMessage(_ context.Context, id string) (QueuedMessage, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.messages[id]
	if !ok {
		return QueuedMessage{}, ErrNotFound
	}
	return m, nil
}

func (a *FileAdapter) RemoveMessage(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.messages, id)
	if err := a.persistLocked(); err != nil {
		return &ErrPersistence{Op: "RemoveMessage", Err: err}
	}
	return nil
}

func (a *FileAdapter) ScanMessages(_ context.Context) ([]QueuedMessage, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]QueuedMessage, 0, len(a.messages))
	for _, m := range a.messages {
		out = append(out, m)
	}
	return out, nil
}

func (a *FileAdapter) PruneExpired(_ context.Context, now time.Time, maxAge time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pruned := 0
	for id, m := range a.messages {
		if now.Sub(m.EnqueuedAt) > maxAge {
			delete(a.messages, id)
			pruned++
		}
	}
	if pruned > 0 {
		if err := a.persistLocked(); err != nil {
			return 0, &ErrPersistence{Op: "PruneExpired", Err: err}
		}
	}
	return pruned, nil
}

func (a *FileAdapter) Size(_ context.Context) (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return uint64(len(a.messages)), nil
}

func (a *FileAdapter) UpsertIdentity(_ context.Context, id IdentityRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identities[id.PeerID] = id
	if err := a.persistLocked(); err != nil {
		return &ErrPersistence{Op: "UpsertIdentity", Err: err}
	}
	return nil
}

func (a *FileAdapter) GetPrimaryIdentity(_ context.Context) (IdentityRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, id := range a.identities {
		if id.IsPrimary {
			return id, nil
		}
	}
	return IdentityRecord{}, ErrNotFound
}

func (a *FileAdapter) ListIdentities(_ context.Context) ([]IdentityRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]IdentityRecord, 0, len(a.identities))
	for _, id := range a.identities {
		out = append(out, id)
	}
	return out, nil
}

func (a *FileAdapter) DeleteIdentity(_ context.Context, peerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.identities, peerID)
	if err := a.persistLocked(); err != nil {
		return &ErrPersistence{Op: "DeleteIdentity", Err: err}
	}
	return nil
}

func (a *FileAdapter) UpsertPeer(_ context.Context, p PeerRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peers[p.PeerID] = p
	if err := a.persistLocked(); err != nil {
		return &ErrPersistence{Op: "UpsertPeer", Err: err}
	}
	return nil
}

func (a *FileAdapter) GetPeer(_ context.Context, peerID string) (PeerRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.peers[peerID]
	if !ok {
		return PeerRecord{}, ErrNotFound
	}
	return p, nil
}

func (a *FileAdapter) ActivePeers(_ context.Context, cutoff time.Time) ([]PeerRecord, error) {
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

func (a *FileAdapter) BlacklistPeer(_ context.Context, peerID string, until time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.peers[peerID]
	if !ok {
		return ErrNotFound
	}
	p.IsBlacklisted = true
	p.BlacklistedUntil = until
	a.peers[peerID] = p
	if err := a.persistLocked(); err != nil {
		return &ErrPersistence{Op: "BlacklistPeer", Err: err}
	}
	return nil
}

func (a *FileAdapter) DeletePeer(_ context.Context, peerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.peers, peerID)
	if err := a.persistLocked(); err != nil {
		return &ErrPersistence{Op: "DeletePeer", Err: err}
	}
	return nil
}

func (a *FileAdapter) PutRoute(_ context.Context, r RouteRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes[r.DestinationID] = r
	if err := a.persistLocked(); err != nil {
		return &ErrPersistence{Op: "PutRoute", Err: err}
	}
	return nil
}

func (a *FileAdapter) GetRoute(_ context.Context, destinationID string) (RouteRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.routes[destinationID]
	if !ok {
		return RouteRecord{}, ErrNotFound
	}
	return r, nil
}

func (a *FileAdapter) ListRoutes(_ context.Context) ([]RouteRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]RouteRecord, 0, len(a.routes))
	for _, r := range a.routes {
		out = append(out, r)
	}
	return out, nil
}

func (a *FileAdapter) DeleteExpiredRoutes(_ context.Context, now time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	deleted := 0
	for id, r := range a.routes {
		if r.LastUpdated.Add(time.Duration(r.TTLSeconds) * time.Second).Before(now) {
			delete(a.routes, id)
			deleted++
		}
	}
	if deleted > 0 {
		if err := a.persistLocked(); err != nil {
			return 0, &ErrPersistence{Op: "DeleteExpiredRoutes", Err: err}
		}
	}
	return deleted, nil
}

func (a *FileAdapter) PutSessionKey(_ context.Context, s SessionKeyRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[s.PeerID] = s
	if err := a.persistLocked(); err != nil {
		return &ErrPersistence{Op: "PutSessionKey", Err: err}
	}
	return nil
}

func (a *FileAdapter) GetSessionKey(_ context.Context, peerID string) (SessionKeyRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[peerID]
	if !ok {
		return SessionKeyRecord{}, ErrNotFound
	}
	return s, nil
}

func (a *FileAdapter) DeleteSessionKey(_ context.Context, peerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, peerID)
	if err := a.persistLocked(); err != nil {
		return &ErrPersistence{Op: "DeleteSessionKey", Err: err}
	}
	return nil
}

func (a *FileAdapter) DeleteExpiredSessionKeys(_ context.Context, now time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	deleted := 0
	for id, s := range a.sessions {
		if s.ExpiresAt.Before(now) {
			delete(a.sessions, id)
			deleted++
		}
	}
	if deleted > 0 {
		if err := a.persistLocked(); err != nil {
			return 0, &ErrPersistence{Op: "DeleteExpiredSessionKeys", Err: err}
		}
	}
	return deleted, nil
}

func (a *FileAdapter) ExportAll(_ context.Context) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return marshalExportSnapshot(a.messages, a.identities, a.peers, a.routes)
}

func (a *FileAdapter) ImportAll(_ context.Context, data []byte, strategy ImportStrategy) (ImportResult, error) {
	snap, err := unmarshalSnapshot(data)
	if err != nil {
		return ImportResult{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	result := applySnapshot(snap, strategy, a.messages, a.identities, a.peers, a.routes, a.sessions)
	if err := a.persistLocked(); err != nil {
		return result, &ErrPersistence{Op: "ImportAll", Err: err}
	}
	return result, nil
}

func (a *FileAdapter) Wipe(_ context.Context, confirmToken string) error {
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
	if a.path == "" {
		return nil
	}
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		return &ErrPersistence{Op: "Wipe", Err: err}
	}
	return nil
}
