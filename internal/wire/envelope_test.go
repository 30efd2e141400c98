package wire

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleEnvelope(rnd *rand.Rand, payloadLen int) Envelope {
	var pub [32]byte
	var sig [65]byte
	_, _ = rnd.Read(pub[:])
	_, _ = rnd.Read(sig[:64])
	payload := make([]byte, payloadLen)
	_, _ = rnd.Read(payload)
	return Envelope{
		Header: Header{
			Version:         version,
			Type:            TypeText,
			TTL:             5,
			TimestampMillis: time.Now().UnixMilli(),
			SenderPublicKey: pub,
			Signature:       sig,
		},
		Payload: payload,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		env := sampleEnvelope(rnd, rnd.Intn(1024))
		raw, err := Encode(env)
		require.NoError(t, err)
		require.Len(t, raw, HeaderSize+len(env.Payload))

		decoded, err := Decode(raw)
		require.NoError(t, err)
		require.Equal(t, env, decoded)
	}
}

func TestDecodeRejectsInvalidVersion(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	env := sampleEnvelope(rnd, 10)
	raw, err := Encode(env)
	require.NoError(t, err)
	raw[offVersion] = 0x02
	_, err = Decode(raw)
	require.ErrorIs(t, err, ErrInvalidVersion)
}

func TestEncodeRejectsInvalidTTL(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	env := sampleEnvelope(rnd, 10)
	env.Header.TTL = 11
	_, err := Encode(env)
	require.ErrorIs(t, err, ErrInvalidTTL)
}

func TestDecodeRejectsInvalidReserved(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	env := sampleEnvelope(rnd, 10)
	raw, err := Encode(env)
	require.NoError(t, err)
	raw[offReserved] = 0x01
	_, err = Decode(raw)
	require.ErrorIs(t, err, ErrInvalidReserved)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	env := sampleEnvelope(rnd, MaxPayload+1)
	_, err := Encode(env)
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeNeverPanicsOnGarbage(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		garbage := make([]byte, rnd.Intn(300))
		_, _ = rnd.Read(garbage)
		require.NotPanics(t, func() {
			_, _ = Decode(garbage)
		})
	}
}

func TestDecodeRejectsFutureSkew(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	env := sampleEnvelope(rnd, 10)
	env.Header.TimestampMillis = time.Now().Add(10 * time.Minute).UnixMilli()
	raw, err := Encode(env)
	require.NoError(t, err)
	_, err = Decode(raw)
	require.ErrorIs(t, err, ErrInvalidTimestampSkew)
}

func TestDecodeRejectsPastSkew(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	env := sampleEnvelope(rnd, 10)
	env.Header.TimestampMillis = time.Now().Add(-10 * time.Minute).UnixMilli()
	raw, err := Encode(env)
	require.NoError(t, err)
	_, err = Decode(raw)
	require.ErrorIs(t, err, ErrInvalidTimestampSkew)
}

func TestDecodeAcceptsUnknownTypeStructurally(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	env := sampleEnvelope(rnd, 10)
	env.Header.Type = Type(0xEE)
	raw, err := Encode(env)
	require.NoError(t, err)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.False(t, decoded.Header.Type.IsKnown())
}

func TestNormalizeSignatureAccepts64And65(t *testing.T) {
	sig64 := make([]byte, 64)
	out, err := NormalizeSignature(sig64)
	require.NoError(t, err)
	require.Equal(t, byte(0), out[64])

	sig65 := make([]byte, 65)
	sig65[64] = 0x00
	out2, err := NormalizeSignature(sig65)
	require.NoError(t, err)
	require.Equal(t, out, out2)

	_, err = NormalizeSignature(make([]byte, 63))
	require.ErrorIs(t, err, ErrInvalidSignatureSize)
}

func TestFingerprintDeterministic(t *testing.T) {
	rnd := rand.New(rand.NewSource(5))
	env := sampleEnvelope(rnd, 64)
	raw, err := Encode(env)
	require.NoError(t, err)
	a := Fingerprint(raw)
	b := Fingerprint(raw)
	require.Equal(t, a, b)
}
