// Package identity implements the long-term keypair half of C2 (spec §3
// Identity, §4.2): generation, mnemonic-backed import/export, and the
// signed peer-introduction card carried by PEER_INTRO envelopes.
package identity

import "time"

// Identity is a long-term keypair plus its display forms (spec §3). Once
// created it is immutable: PeerID, Fingerprint and PublicKey never change
// for the lifetime of the process that holds it.
type Identity struct {
	PeerID      string    // first 16 hex chars of SHA-256(PublicKey)
	Fingerprint string    // SHA-256(PublicKey), grouped in 4-hex blocks
	PublicKey   [32]byte  // Ed25519 public key
	CreatedAt   time.Time
	IsPrimary   bool
}

// DerivedKeys is the key material produced from a BIP-39 seed: an Ed25519
// keypair for signing. It holds no raw seed; X25519 forms are obtained from
// this keypair via internal/meshcrypto's Edwards-to-Montgomery conversion.
type DerivedKeys struct {
	SigningPrivateKey []byte // Ed25519 private key (64 bytes: seed||pub)
	SigningPublicKey  []byte // Ed25519 public key (32 bytes)
}

// EncryptedSeedEnvelope is the at-rest form of a BIP-39 mnemonic, encrypted
// with an argon2id-derived key (spec's persistence never stores secrets in
// clear).
type EncryptedSeedEnvelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// PeerIntro is the signed payload carried by a PEER_INTRO (0x21) envelope:
// a self-asserted binding of peer_id to public key, authenticated by the
// corresponding private key (spec §4.3 names the wire type, not its
// payload; this fills that gap).
type PeerIntro struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name"`
	PublicKey   []byte `json:"public_key"`
	Signature   []byte `json:"signature"`
}
