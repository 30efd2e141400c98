package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fp(b byte) Fingerprint {
	var f Fingerprint
	f[0] = b
	return f
}

func TestObserveFirstTimeNotSeen(t *testing.T) {
	s := New(10)
	require.False(t, s.Observe(fp(1), time.Now()))
}

func TestObserveDuplicateReportsSeen(t *testing.T) {
	s := New(10)
	now := time.Now()
	require.False(t, s.Observe(fp(1), now))
	require.True(t, s.Observe(fp(1), now.Add(time.Second)))
}

func TestEvictsOldestAtCapacity(t *testing.T) {
	s := New(3)
	now := time.Now()
	s.Observe(fp(1), now)
	s.Observe(fp(2), now)
	s.Observe(fp(3), now)
	s.Observe(fp(4), now) // evicts fp(1)

	require.Equal(t, 3, s.Len())
	_, ok := s.FirstSeenAt(fp(2))
	require.True(t, ok)
	require.False(t, s.Observe(fp(1), now)) // no longer tracked, treated as new
}

func TestWithinTTL(t *testing.T) {
	s := New(10)
	now := time.Now()
	s.Observe(fp(1), now)
	require.True(t, s.WithinTTL(fp(1), now.Add(30*time.Second), DefaultTTL))
	require.False(t, s.WithinTTL(fp(1), now.Add(90*time.Second), DefaultTTL))
	require.False(t, s.WithinTTL(fp(2), now, DefaultTTL))
}

func TestDefaultCapacityUsedWhenNonPositive(t *testing.T) {
	s := New(0)
	require.Equal(t, DefaultCapacity, s.capacity)
}
