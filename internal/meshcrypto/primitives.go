// Package meshcrypto implements the core cryptographic primitives: Ed25519
// signing, X25519 key agreement (including Ed25519-to-X25519 conversion),
// HKDF-SHA256 derivation, XChaCha20-Poly1305 AEAD, and constant-time
// comparison. Nothing here is aware of envelopes, sessions or peers; those
// live in internal/wire, internal/session and internal/registry.
package meshcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
	// WireSignatureSize is the on-wire signature length: 64-byte Ed25519
	// signature plus a vestigial 0x00 recovery byte (spec §4.1, Open Questions).
	WireSignatureSize = 65
	SharedSecretSize  = 32
	NonceSize         = chacha20poly1305.NonceSizeX

	infoSessionKey = "SC-Session-Key-v1"
	infoRekey      = "SC-Rekey-v1"
)

var (
	ErrEntropySource  = errors.New("meshcrypto: entropy source failure")
	ErrInvalidKeySize = errors.New("meshcrypto: invalid key size")
	ErrInvalidSigSize = errors.New("meshcrypto: invalid signature size")
	ErrMacFailure     = errors.New("meshcrypto: AEAD authentication failed")
)

// GenerateIdentity produces a fresh Ed25519 keypair. It fails only if the
// system entropy source fails.
func GenerateIdentity() (pub [32]byte, priv [64]byte, err error) {
	p, s, genErr := ed25519.GenerateKey(rand.Reader)
	if genErr != nil {
		return pub, priv, ErrEntropySource
	}
	copy(pub[:], p)
	copy(priv[:], s)
	return pub, priv, nil
}

// Sign signs msg with priv and returns a 65-byte wire signature: the 64-byte
// Ed25519 signature followed by a vestigial zero byte (spec §4.1).
func Sign(msg []byte, priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	sig := ed25519.Sign(priv, msg)
	out := make([]byte, WireSignatureSize)
	copy(out, sig)
	return out, nil
}

// Verify reports whether sig (64 or 65 bytes, per the wire's backward
// compatibility rule) is a valid Ed25519 signature over msg by pub. It never
// panics and never returns an error: any structural or cryptographic
// failure simply yields false.
func Verify(sig, msg []byte, pub ed25519.PublicKey) bool {
	if len(pub) != PublicKeySize {
		return false
	}
	switch len(sig) {
	case ed25519.SignatureSize:
		return ed25519.Verify(pub, msg, sig)
	case WireSignatureSize:
		return ed25519.Verify(pub, msg, sig[:ed25519.SignatureSize])
	default:
		return false
	}
}

// Ed25519PublicToX25519 converts an Ed25519 public key to its Montgomery
// (X25519) form via the standard Edwards-to-Montgomery birational map.
func Ed25519PublicToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != PublicKeySize {
		return nil, ErrInvalidKeySize
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, errors.New("meshcrypto: invalid ed25519 point")
	}
	return p.BytesMontgomery(), nil
}

// Ed25519PrivateToX25519 converts an Ed25519 private key to the clamped
// X25519 scalar derived from its seed (RFC 8032 §5.1.5).
func Ed25519PrivateToX25519(priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	out := make([]byte, 32)
	copy(out, h[:32])
	return out, nil
}

// ECDH performs an X25519 Diffie-Hellman exchange and returns the 32-byte
// shared secret. Callers pass X25519-form keys; use Ed25519PrivateToX25519 /
// Ed25519PublicToX25519 first when starting from identity keys.
func ECDH(x25519Priv, x25519Pub []byte) ([]byte, error) {
	if len(x25519Priv) != 32 || len(x25519Pub) != 32 {
		return nil, ErrInvalidKeySize
	}
	secret, err := x25519ScalarMult(x25519Priv, x25519Pub)
	if err != nil {
		return nil, err
	}
	var zero [32]byte
	if subtle.ConstantTimeCompare(secret, zero[:]) == 1 {
		return nil, errors.New("meshcrypto: low-order ecdh result")
	}
	return secret, nil
}

// HKDFSHA256 derives L bytes of output key material from ikm using
// HKDF-SHA256 (RFC 5869) with the given salt and info string.
func HKDFSHA256(ikm, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveSessionKey derives a session key per spec §4.1's required info
// string "SC-Session-Key-v1".
func DeriveSessionKey(sharedSecret, salt []byte, length int) ([]byte, error) {
	return HKDFSHA256(sharedSecret, salt, []byte(infoSessionKey), length)
}

// DeriveRekey derives fresh send/recv keys per spec §4.1/§4.2's required
// info string "SC-Rekey-v1", over sharedSecret||counter||directionTag.
func DeriveRekey(sharedSecret []byte, counter uint64, directionTag byte, length int) ([]byte, error) {
	ikm := make([]byte, 0, len(sharedSecret)+9)
	ikm = append(ikm, sharedSecret...)
	ikm = appendUint64(ikm, counter)
	ikm = append(ikm, directionTag)
	return HKDFSHA256(ikm, nil, []byte(infoRekey), length)
}

// AEADEncrypt seals plaintext under key (32 bytes) and nonce (24 bytes,
// XChaCha20-Poly1305), authenticating associatedData.
func AEADEncrypt(key, nonce, plaintext, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrInvalidKeySize
	}
	return aead.Seal(nil, nonce, plaintext, associatedData), nil
}

// AEADDecrypt opens ciphertext under key/nonce, authenticating
// associatedData. It runs in time independent of where MAC failure
// occurred, since chacha20poly1305.Open performs its MAC comparison in
// constant time before returning.
func AEADDecrypt(key, nonce, ciphertext, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrInvalidKeySize
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, ErrMacFailure
	}
	return plaintext, nil
}

// CtEq reports whether a and b are equal, comparing in time that depends
// only on the lengths of a and b, never on their contents or where they
// first differ.
func CtEq(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func appendUint64(b []byte, v uint64) []byte {
	return append(b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v),
	)
}
