package meshcrypto

import (
	"crypto/sha256"
	"hash"

	"golang.org/x/crypto/curve25519"
)

func sha256New() hash.Hash {
	return sha256.New()
}

func x25519ScalarMult(priv, pub []byte) ([]byte, error) {
	return curve25519.X25519(priv, pub)
}

// SHA256 is exposed for callers that need a plain digest (peer_id,
// fingerprint, envelope fingerprint computations live in their owning
// packages, but they all funnel through this one hash function).
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}
