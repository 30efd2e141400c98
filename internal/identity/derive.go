package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const hkdfInfoSigning = "mesh/identity/signing/v1"

// DeriveKeys expands a BIP-39 seed into the Ed25519 signing keypair used as
// this node's long-term Identity.
func DeriveKeys(seedBytes []byte) (*DerivedKeys, error) {
	signingSeed, err := hkdfExpand(seedBytes, hkdfInfoSigning, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	signingPriv := ed25519.NewKeyFromSeed(signingSeed)
	signingPub := signingPriv.Public().(ed25519.PublicKey)

	return &DerivedKeys{
		SigningPrivateKey: signingPriv,
		SigningPublicKey:  signingPub,
	}, nil
}

// BuildPeerID returns the first 16 hex chars of SHA-256(publicKey) (spec §3).
func BuildPeerID(publicKey []byte) (string, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("identity: invalid public key size: %d", len(publicKey))
	}
	h := sha256.Sum256(publicKey)
	return hex.EncodeToString(h[:])[:16], nil
}

// BuildFingerprint returns SHA-256(publicKey) hex-encoded and grouped into
// 4-hex-char blocks for human verification (spec §3, §glossary).
func BuildFingerprint(publicKey []byte) (string, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("identity: invalid public key size: %d", len(publicKey))
	}
	h := sha256.Sum256(publicKey)
	full := hex.EncodeToString(h[:])
	var groups []string
	for i := 0; i < len(full); i += 4 {
		groups = append(groups, full[i:i+4])
	}
	return strings.Join(groups, " "), nil
}

// VerifyPeerID reports whether peerID is the correct derivation for publicKey.
func VerifyPeerID(peerID string, publicKey []byte) (bool, error) {
	expected, err := BuildPeerID(publicKey)
	if err != nil {
		return false, err
	}
	return peerID == expected, nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
