// Package session maintains a SessionContext per known peer: the send/recv
// key pair, nonce bookkeeping, and the counter+age rekey policy of spec
// §4.2. It is the sibling of internal/identity (which owns the long-term
// keypair); this package owns the short-lived per-peer symmetric state.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"meshcore/internal/meshcrypto"
	"meshcore/internal/store"
)

const (
	// RekeyMessageThreshold is the message-count trigger from spec §4.2:
	// a rekey MUST occur before msg_count_since_rekey reaches this value.
	RekeyMessageThreshold = 1000
	// RekeyMaxAge is the time-based rekey trigger (spec §4.2 default 24h).
	RekeyMaxAge = 24 * time.Hour
	// ReplayWindowWidth is the width of the receiver's anti-replay filter.
	ReplayWindowWidth = 1024

	keySize = 32
)

// directionTag distinguishes the two halves of a session key derivation so
// that send_key != recv_key on either side (spec §4.2).
type directionTag byte

const (
	directionInitiatorToResponder directionTag = 0x01
	directionResponderToInitiator directionTag = 0x02
)

var (
	ErrUnknownSession   = errors.New("session: no session for peer")
	ErrNonceReplayed    = errors.New("session: nonce already seen or below replay window")
	ErrSessionExpired   = errors.New("session: session key expired, rekey required")
	ErrWrongDirection   = errors.New("session: nonce direction tag does not match receive direction")
	ErrCounterExhausted = errors.New("session: send nonce counter exhausted, rekey required")
)

// SecurityEventKind classifies a SecurityEvent. Kinds mirror the Fatal list
// of spec §4.7's failure semantics.
type SecurityEventKind int

const (
	SecurityEventNonceReuse SecurityEventKind = iota
	SecurityEventSignatureKeyCompromise
	SecurityEventPersistenceFatal
)

func (k SecurityEventKind) String() string {
	switch k {
	case SecurityEventNonceReuse:
		return "nonce_reuse"
	case SecurityEventSignatureKeyCompromise:
		return "signature_key_compromise"
	case SecurityEventPersistenceFatal:
		return "persistence_fatal"
	default:
		return "unknown"
	}
}

// SecurityEvent is emitted on a fatal session condition. Upper layers
// (core's OnSecurityAlert observers) decide how to surface or persist it.
type SecurityEvent struct {
	Kind    SecurityEventKind
	PeerID  string
	Message string
	At      time.Time
}

// SessionContext is the per-peer symmetric session state of spec §3.
type SessionContext struct {
	mu sync.Mutex

	PeerID string

	SendKey [keySize]byte
	RecvKey [keySize]byte

	SendNonceCounter   uint64
	MsgCountSinceRekey int

	EstablishedAt time.Time
	ExpiresAt     time.Time

	isInitiator     bool
	rekeyGeneration uint64
	replayWindow    slidingWindow
}

// needsRekeyLocked reports whether the counter or age trigger of spec §4.2
// has been crossed. Caller holds sc.mu.
func (sc *SessionContext) needsRekeyLocked(now time.Time) bool {
	return sc.MsgCountSinceRekey >= RekeyMessageThreshold || !now.Before(sc.ExpiresAt)
}

// NeedsRekey reports whether the session should be rekeyed before the next
// send, per the counter or age trigger of spec §4.2.
func (sc *SessionContext) NeedsRekey(now time.Time) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.needsRekeyLocked(now)
}

func sendDirection(isInitiator bool) directionTag {
	if isInitiator {
		return directionInitiatorToResponder
	}
	return directionResponderToInitiator
}

func recvDirection(isInitiator bool) directionTag {
	if isInitiator {
		return directionResponderToInitiator
	}
	return directionInitiatorToResponder
}

// deriveKeys computes (sendKey, recvKey) for generation gen over
// sharedSecret, per spec §4.2: HKDF over shared_secret||counter||direction_tag.
func deriveKeys(sharedSecret []byte, gen uint64, isInitiator bool) (send, recv [keySize]byte, err error) {
	sendOKM, err := meshcrypto.DeriveRekey(sharedSecret, gen, byte(sendDirection(isInitiator)), keySize)
	if err != nil {
		return send, recv, err
	}
	recvOKM, err := meshcrypto.DeriveRekey(sharedSecret, gen, byte(recvDirection(isInitiator)), keySize)
	if err != nil {
		return send, recv, err
	}
	copy(send[:], sendOKM)
	copy(recv[:], recvOKM)
	return send, recv, nil
}

// buildNonce packs the 24-byte XChaCha nonce: a 1-byte direction tag in the
// high byte, 15 zero bytes, and the 8-byte big-endian counter (spec §4.2:
// "left-padded into the 24-byte XChaCha nonce with a per-direction tag in
// the high bytes").
func buildNonce(tag directionTag, counter uint64) [meshcrypto.NonceSize]byte {
	var nonce [meshcrypto.NonceSize]byte
	nonce[0] = byte(tag)
	for i := 0; i < 8; i++ {
		nonce[meshcrypto.NonceSize-1-i] = byte(counter >> (8 * i))
	}
	return nonce
}

func parseNonce(nonce []byte) (tag directionTag, counter uint64, ok bool) {
	if len(nonce) != meshcrypto.NonceSize {
		return 0, 0, false
	}
	tag = directionTag(nonce[0])
	for i := 1; i < meshcrypto.NonceSize-8; i++ {
		if nonce[i] != 0 {
			return 0, 0, false
		}
	}
	for i := 0; i < 8; i++ {
		counter = counter<<8 | uint64(nonce[meshcrypto.NonceSize-8+i])
	}
	return tag, counter, true
}

func toRecord(sc *SessionContext) store.SessionKeyRecord {
	return store.SessionKeyRecord{
		PeerID:             sc.PeerID,
		SendKey:            sc.SendKey,
		RecvKey:            sc.RecvKey,
		SendNonceCounter:   sc.SendNonceCounter,
		MsgCountSinceRekey: sc.MsgCountSinceRekey,
		EstablishedAt:      sc.EstablishedAt,
		ExpiresAt:          sc.ExpiresAt,
	}
}

func fromRecord(rec store.SessionKeyRecord, isInitiator bool) *SessionContext {
	return &SessionContext{
		PeerID:             rec.PeerID,
		SendKey:            rec.SendKey,
		RecvKey:            rec.RecvKey,
		SendNonceCounter:   rec.SendNonceCounter,
		MsgCountSinceRekey: rec.MsgCountSinceRekey,
		EstablishedAt:      rec.EstablishedAt,
		ExpiresAt:          rec.ExpiresAt,
		isInitiator:        isInitiator,
	}
}

// Store is the subset of internal/store's Adapter that Manager needs for
// session-key durability. store.Adapter satisfies it directly.
type Store interface {
	PutSessionKey(ctx context.Context, s store.SessionKeyRecord) error
	GetSessionKey(ctx context.Context, peerID string) (store.SessionKeyRecord, error)
	DeleteSessionKey(ctx context.Context, peerID string) error
}

// Manager owns the live SessionContext for every known peer and persists
// their key material through a Store. The sliding-window replay state is
// kept in memory only: it is reconstructed empty on reload, same as the
// teacher's seen-message bookkeeping.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*SessionContext
	store    Store

	onSecurityEvent func(SecurityEvent)
}

// NewManager constructs a Manager backed by store. onSecurityEvent may be
// nil; when set it is invoked synchronously when Decrypt detects nonce
// reuse, the only SecurityEventKind this package emits.
func NewManager(st Store, onSecurityEvent func(SecurityEvent)) *Manager {
	return &Manager{
		sessions:        make(map[string]*SessionContext),
		store:           st,
		onSecurityEvent: onSecurityEvent,
	}
}

func (m *Manager) emit(ev SecurityEvent) {
	if m.onSecurityEvent != nil {
		m.onSecurityEvent(ev)
	}
}

// Establish derives a fresh session for peerID from sharedSecret (the X3DH/
// ECDH output) and persists it. isInitiator selects which half of the
// derivation is this side's send key. A new session is established lazily
// on first outbound message to a peer or on first inbound KEY_EXCHANGE
// (spec §4.2); callers trigger Establish at those two points.
func (m *Manager) Establish(ctx context.Context, peerID string, sharedSecret []byte, isInitiator bool, now time.Time) (*SessionContext, error) {
	send, recv, err := deriveKeys(sharedSecret, 0, isInitiator)
	if err != nil {
		return nil, err
	}
	sc := &SessionContext{
		PeerID:        peerID,
		SendKey:       send,
		RecvKey:       recv,
		EstablishedAt: now,
		ExpiresAt:     now.Add(RekeyMaxAge),
		isInitiator:   isInitiator,
	}

	m.mu.Lock()
	m.sessions[peerID] = sc
	m.mu.Unlock()

	if err := m.store.PutSessionKey(ctx, toRecord(sc)); err != nil {
		return nil, err
	}
	return sc, nil
}

// Get returns the in-memory session for peerID, loading it from the store
// (with a fresh replay window) if not already cached.
func (m *Manager) Get(ctx context.Context, peerID string, isInitiator bool) (*SessionContext, error) {
	m.mu.Lock()
	if sc, ok := m.sessions[peerID]; ok {
		m.mu.Unlock()
		return sc, nil
	}
	m.mu.Unlock()

	rec, err := m.store.GetSessionKey(ctx, peerID)
	if err != nil {
		return nil, ErrUnknownSession
	}
	sc := fromRecord(rec, isInitiator)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[peerID]; ok {
		return existing, nil
	}
	m.sessions[peerID] = sc
	return sc, nil
}

// Rekey derives a fresh key pair for an existing session, zeroizes the old
// keys, and resets the nonce/message counters. Called when NeedsRekey is
// true or on explicit user request (spec §4.2).
func (m *Manager) Rekey(ctx context.Context, peerID string, sharedSecret []byte, now time.Time) (*SessionContext, error) {
	m.mu.Lock()
	sc, ok := m.sessions[peerID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}

	sc.mu.Lock()
	gen := sc.rekeyGeneration + 1
	send, recv, err := deriveKeys(sharedSecret, gen, sc.isInitiator)
	if err != nil {
		sc.mu.Unlock()
		return nil, err
	}
	zero(sc.SendKey[:])
	zero(sc.RecvKey[:])
	sc.SendKey = send
	sc.RecvKey = recv
	sc.SendNonceCounter = 0
	sc.MsgCountSinceRekey = 0
	sc.EstablishedAt = now
	sc.ExpiresAt = now.Add(RekeyMaxAge)
	sc.rekeyGeneration = gen
	sc.replayWindow = slidingWindow{}
	sc.mu.Unlock()

	if err := m.store.PutSessionKey(ctx, toRecord(sc)); err != nil {
		return nil, err
	}
	return sc, nil
}

// Encrypt seals plaintext for peerID, auto-rekeying first if the counter or
// age trigger has been crossed. aad is the caller-supplied associated data
// (the relay engine passes wire.Header.AAD(): the 43-byte header prefix
// through sender_public_key, ttl excluded). Returns the 24-byte nonce and
// ciphertext to place on the wire.
func (m *Manager) Encrypt(ctx context.Context, peerID string, sharedSecret []byte, isInitiator bool, plaintext, aad []byte) (nonce []byte, ciphertext []byte, err error) {
	sc, err := m.Get(ctx, peerID, isInitiator)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	if sc.NeedsRekey(now) {
		sc, err = m.Rekey(ctx, peerID, sharedSecret, now)
		if err != nil {
			return nil, nil, err
		}
	}

	sc.mu.Lock()
	if sc.SendNonceCounter == ^uint64(0) {
		sc.mu.Unlock()
		return nil, nil, ErrCounterExhausted
	}
	counter := sc.SendNonceCounter
	sc.SendNonceCounter++
	sc.MsgCountSinceRekey++
	key := sc.SendKey
	tag := sendDirection(sc.isInitiator)
	rec := toRecord(sc)
	sc.mu.Unlock()

	n := buildNonce(tag, counter)
	ct, err := meshcrypto.AEADEncrypt(key[:], n[:], plaintext, aad)
	if err != nil {
		return nil, nil, err
	}

	if err := m.store.PutSessionKey(ctx, rec); err != nil {
		return nil, nil, err
	}
	return n[:], ct, nil
}

// Decrypt opens ciphertext received from peerID. A replayed or out-of-window
// nonce is fatal: it triggers an immediate rekey and a SecurityEvent (spec
// §4.2), and is reported to the caller as ErrNonceReplayed.
func (m *Manager) Decrypt(ctx context.Context, peerID string, sharedSecret []byte, isInitiator bool, nonce, ciphertext, aad []byte) ([]byte, error) {
	sc, err := m.Get(ctx, peerID, isInitiator)
	if err != nil {
		return nil, err
	}

	tag, counter, ok := parseNonce(nonce)
	if !ok {
		return nil, ErrWrongDirection
	}

	sc.mu.Lock()
	expected := recvDirection(sc.isInitiator)
	if tag != expected {
		sc.mu.Unlock()
		return nil, ErrWrongDirection
	}
	if err := sc.replayWindow.Check(counter); err != nil {
		sc.mu.Unlock()
		m.emit(SecurityEvent{Kind: SecurityEventNonceReuse, PeerID: peerID, Message: err.Error(), At: time.Now()})
		if _, rekeyErr := m.Rekey(ctx, peerID, sharedSecret, time.Now()); rekeyErr != nil {
			return nil, rekeyErr
		}
		return nil, ErrNonceReplayed
	}
	key := sc.RecvKey
	sc.mu.Unlock()

	plaintext, err := meshcrypto.AEADDecrypt(key[:], nonce, ciphertext, aad)
	if err != nil {
		return nil, err
	}

	// The window only advances now that the AEAD tag has verified: a forged
	// frame carrying a plausible counter never gets to shift the window or
	// evict legitimate in-flight nonces, since it never reaches this line.
	sc.mu.Lock()
	sc.replayWindow.Commit(counter)
	sc.MsgCountSinceRekey++
	rec := toRecord(sc)
	sc.mu.Unlock()

	if err := m.store.PutSessionKey(ctx, rec); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Forget discards a session's in-memory and persisted state (e.g. on
// peer blacklist or revocation).
func (m *Manager) Forget(ctx context.Context, peerID string) error {
	m.mu.Lock()
	if sc, ok := m.sessions[peerID]; ok {
		sc.mu.Lock()
		zero(sc.SendKey[:])
		zero(sc.RecvKey[:])
		sc.mu.Unlock()
		delete(m.sessions, peerID)
	}
	m.mu.Unlock()
	return m.store.DeleteSessionKey(ctx, peerID)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
