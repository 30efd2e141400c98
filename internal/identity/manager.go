package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"time"
)

var (
	ErrInvalidPeerIntro = errors.New("invalid peer intro")
	ErrIdentityMismatch = errors.New("peer_id does not match public key")
	ErrNotInitialized   = errors.New("identity not initialized")
)

// Manager owns exactly one long-term Identity (spec §3: at most one
// primary). It is the single place private key material is held in
// memory; callers never receive the raw private key, only signatures.
type Manager struct {
	mu       sync.RWMutex
	identity Identity
	selfPriv ed25519.PrivateKey
	seeds    *SeedManager
}

// NewManager creates a fresh, ephemeral (not mnemonic-backed) identity —
// used for tests and for nodes that manage their own key storage
// out-of-band. Call CreateIdentity instead for a mnemonic-recoverable one.
func NewManager() (*Manager, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	m := &Manager{seeds: NewSeedManager()}
	if err := m.setIdentity(pub, priv); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) setIdentity(pub ed25519.PublicKey, priv ed25519.PrivateKey) error {
	peerID, err := BuildPeerID(pub)
	if err != nil {
		return err
	}
	fingerprint, err := BuildFingerprint(pub)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var pubArr [32]byte
	copy(pubArr[:], pub)
	m.identity = Identity{
		PeerID:      peerID,
		Fingerprint: fingerprint,
		PublicKey:   pubArr,
		CreatedAt:   time.Now(),
		IsPrimary:   true,
	}
	m.selfPriv = append(ed25519.PrivateKey(nil), priv...)
	return nil
}

// CreateIdentity generates a new BIP-39 mnemonic, derives an Identity from
// it, and encrypts the mnemonic at rest under password.
func (m *Manager) CreateIdentity(password string) (Identity, string, error) {
	mnemonic, keys, err := m.seeds.Create(password)
	if err != nil {
		return Identity{}, "", err
	}
	if err := m.setIdentity(keys.SigningPublicKey, keys.SigningPrivateKey); err != nil {
		return Identity{}, "", err
	}
	return m.GetIdentity(), mnemonic, nil
}

// ImportIdentity recovers an Identity from an existing mnemonic.
func (m *Manager) ImportIdentity(mnemonic, password string) (Identity, error) {
	_, keys, err := m.seeds.Import(mnemonic, password)
	if err != nil {
		return Identity{}, err
	}
	if err := m.setIdentity(keys.SigningPublicKey, keys.SigningPrivateKey); err != nil {
		return Identity{}, err
	}
	return m.GetIdentity(), nil
}

func (m *Manager) ExportSeed(password string) (string, error) {
	return m.seeds.Export(password)
}

func (m *Manager) ValidateMnemonic(mnemonic string) bool {
	return m.seeds.ValidateMnemonic(mnemonic)
}

func (m *Manager) ChangePassword(oldPassword, newPassword string) error {
	return m.seeds.ChangePassword(oldPassword, newPassword)
}

// GetIdentity returns the current Identity (public fields only — the
// private key never leaves the Manager).
func (m *Manager) GetIdentity() Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// Sign produces an Ed25519 signature over msg using this identity's
// private key. Used by internal/wire to populate Envelope.Signature.
func (m *Manager) Sign(msg []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.selfPriv == nil {
		return nil, ErrNotInitialized
	}
	return ed25519.Sign(m.selfPriv, msg), nil
}

// PrivateKeyForECDH returns a defensive copy of the raw Ed25519 private key
// for X25519 conversion (internal/meshcrypto.Ed25519PrivateToX25519). The
// caller owns zeroizing the returned slice once the session secret is
// derived.
func (m *Manager) PrivateKeyForECDH() (ed25519.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.selfPriv == nil {
		return nil, ErrNotInitialized
	}
	return append(ed25519.PrivateKey(nil), m.selfPriv...), nil
}

// SignPeerIntro builds and signs a PeerIntro for this identity, carried by
// a PEER_INTRO (0x21) envelope payload.
func (m *Manager) SignPeerIntro(displayName string) (PeerIntro, error) {
	m.mu.RLock()
	id := m.identity
	priv := append(ed25519.PrivateKey(nil), m.selfPriv...)
	m.mu.RUnlock()
	if priv == nil {
		return PeerIntro{}, ErrNotInitialized
	}
	return SignPeerIntro(id.PeerID, displayName, id.PublicKey[:], priv)
}

// SignPeerIntro signs a standalone PeerIntro card given explicit key
// material (used by tests and by any collaborator that is not the owning
// Manager, e.g. a peer signing its own intro before sending it).
func SignPeerIntro(peerID, displayName string, publicKey ed25519.PublicKey, privateKey ed25519.PrivateKey) (PeerIntro, error) {
	if privateKey == nil || publicKey == nil {
		return PeerIntro{}, ErrInvalidPeerIntro
	}
	ok, err := VerifyPeerID(peerID, publicKey)
	if err != nil {
		return PeerIntro{}, err
	}
	if !ok {
		return PeerIntro{}, ErrIdentityMismatch
	}
	card := PeerIntro{
		PeerID:      peerID,
		DisplayName: displayName,
		PublicKey:   append([]byte(nil), publicKey...),
	}
	card.Signature = ed25519.Sign(privateKey, peerIntroSigningBytes(card))
	return card, nil
}

// VerifyPeerIntro checks that card's signature matches its claimed peer_id
// and public key.
func VerifyPeerIntro(card PeerIntro) (bool, error) {
	if len(card.PublicKey) != ed25519.PublicKeySize || len(card.Signature) != ed25519.SignatureSize {
		return false, ErrInvalidPeerIntro
	}
	ok, err := VerifyPeerID(card.PeerID, card.PublicKey)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrIdentityMismatch
	}
	return ed25519.Verify(card.PublicKey, peerIntroSigningBytes(card), card.Signature), nil
}

func peerIntroSigningBytes(card PeerIntro) []byte {
	b := make([]byte, 0, len(card.PeerID)+len(card.DisplayName)+len(card.PublicKey)+2)
	b = append(b, []byte(card.PeerID)...)
	b = append(b, 0)
	b = append(b, []byte(card.DisplayName)...)
	b = append(b, 0)
	b = append(b, card.PublicKey...)
	return b
}
