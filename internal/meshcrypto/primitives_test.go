package meshcrypto

import (
	"crypto/ed25519"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateIdentity()
	require.NoError(t, err)

	msg := []byte("hello mesh")
	sig, err := Sign(msg, ed25519.PrivateKey(priv[:]))
	require.NoError(t, err)
	require.Len(t, sig, WireSignatureSize)
	require.True(t, Verify(sig, msg, ed25519.PublicKey(pub[:])))
}

func TestVerifyAccepts64And65ByteSignatures(t *testing.T) {
	pub, priv, err := GenerateIdentity()
	require.NoError(t, err)
	msg := []byte("accept both lengths")
	sig, err := Sign(msg, ed25519.PrivateKey(priv[:]))
	require.NoError(t, err)

	require.True(t, Verify(sig, msg, ed25519.PublicKey(pub[:])))
	require.True(t, Verify(sig[:ed25519.SignatureSize], msg, ed25519.PublicKey(pub[:])))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		pub, priv, err := GenerateIdentity()
		require.NoError(t, err)
		msg := randomBytes(rnd, 1+rnd.Intn(256))
		sig, err := Sign(msg, ed25519.PrivateKey(priv[:]))
		require.NoError(t, err)

		flipped := append([]byte(nil), msg...)
		flipped[rnd.Intn(len(flipped))] ^= 0x01
		require.False(t, Verify(sig, flipped, ed25519.PublicKey(pub[:])))
	}
}

func TestVerifyStructuralFailuresNeverPanic(t *testing.T) {
	require.False(t, Verify(nil, []byte("x"), nil))
	require.False(t, Verify([]byte{1, 2, 3}, []byte("x"), make([]byte, 32)))
	require.False(t, Verify(make([]byte, 65), nil, make([]byte, 10)))
}

func TestECDHAgreement(t *testing.T) {
	aPub, aPriv, err := GenerateIdentity()
	require.NoError(t, err)
	bPub, bPriv, err := GenerateIdentity()
	require.NoError(t, err)

	aXPriv, err := Ed25519PrivateToX25519(ed25519.PrivateKey(aPriv[:]))
	require.NoError(t, err)
	bXPriv, err := Ed25519PrivateToX25519(ed25519.PrivateKey(bPriv[:]))
	require.NoError(t, err)
	aXPub, err := Ed25519PublicToX25519(ed25519.PublicKey(aPub[:]))
	require.NoError(t, err)
	bXPub, err := Ed25519PublicToX25519(ed25519.PublicKey(bPub[:]))
	require.NoError(t, err)

	secretAB, err := ECDH(aXPriv, bXPub)
	require.NoError(t, err)
	secretBA, err := ECDH(bXPriv, aXPub)
	require.NoError(t, err)
	require.Equal(t, secretAB, secretBA)
}

func TestAEADEncryptDecryptRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		key := randomBytes(rnd, 32)
		nonce := randomBytes(rnd, NonceSize)
		plaintext := randomBytes(rnd, rnd.Intn(512))
		ad := randomBytes(rnd, rnd.Intn(64))

		ciphertext, err := AEADEncrypt(key, nonce, plaintext, ad)
		require.NoError(t, err)
		decrypted, err := AEADDecrypt(key, nonce, ciphertext, ad)
		require.NoError(t, err)
		require.Equal(t, plaintext, decrypted)
	}
}

func TestAEADDecryptFailsOnTamperWithoutLeakingPlaintext(t *testing.T) {
	key := make([]byte, 32)
	nonce := make([]byte, NonceSize)
	plaintext := []byte("secret payload")
	ciphertext, err := AEADEncrypt(key, nonce, plaintext, []byte("ad"))
	require.NoError(t, err)

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xFF
	out, err := AEADDecrypt(key, nonce, tampered, []byte("ad"))
	require.ErrorIs(t, err, ErrMacFailure)
	require.Nil(t, out)
}

func TestHKDFDeterministic(t *testing.T) {
	ikm := []byte("shared secret material")
	salt := []byte("salt")
	okm1, err := HKDFSHA256(ikm, salt, []byte(infoSessionKey), 32)
	require.NoError(t, err)
	okm2, err := HKDFSHA256(ikm, salt, []byte(infoSessionKey), 32)
	require.NoError(t, err)
	require.Equal(t, okm1, okm2)

	other, err := HKDFSHA256(ikm, salt, []byte(infoRekey), 32)
	require.NoError(t, err)
	require.NotEqual(t, okm1, other)
}

func TestDeriveRekeyProducesDistinctSendRecvKeys(t *testing.T) {
	shared := []byte("rekey shared secret")
	sendKey, err := DeriveRekey(shared, 1000, 0x01, 32)
	require.NoError(t, err)
	recvKey, err := DeriveRekey(shared, 1000, 0x02, 32)
	require.NoError(t, err)
	require.NotEqual(t, sendKey, recvKey)
}

func TestCtEqLengthDependentOnly(t *testing.T) {
	require.True(t, CtEq([]byte("abc"), []byte("abc")))
	require.False(t, CtEq([]byte("abc"), []byte("abd")))
	require.False(t, CtEq([]byte("abc"), []byte("abcd")))
}

func randomBytes(rnd *rand.Rand, n int) []byte {
	b := make([]byte, n)
	_, _ = rnd.Read(b)
	return b
}
