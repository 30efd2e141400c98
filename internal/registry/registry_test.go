package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpsertDefaultsReputationAndPreservesFirstSeen(t *testing.T) {
	r := New()
	now := time.Now()

	r.Upsert(Peer{PeerID: "p1", LastSeen: now})
	got, err := r.Get("p1")
	require.NoError(t, err)
	require.Equal(t, ReputationInitial, got.ReputationScore)
	require.Equal(t, now, got.FirstSeen)

	later := now.Add(time.Minute)
	r.Upsert(Peer{PeerID: "p1", LastSeen: later, ReputationScore: 80})
	got, err = r.Get("p1")
	require.NoError(t, err)
	require.Equal(t, now, got.FirstSeen)
	require.Equal(t, 80, got.ReputationScore)
}

func TestActivePeersExcludesStaleAndBlacklisted(t *testing.T) {
	r := New()
	now := time.Now()
	r.Upsert(Peer{PeerID: "fresh", LastSeen: now})
	r.Upsert(Peer{PeerID: "stale", LastSeen: now.Add(-time.Hour)})

	active := r.ActivePeers(now, 10*time.Minute)
	require.Len(t, active, 1)
	require.Equal(t, "fresh", active[0].PeerID)

	require.NoError(t, r.Blacklist("fresh", now, time.Hour))
	active = r.ActivePeers(now, 10*time.Minute)
	require.Empty(t, active)
}

func TestAdjustReputationClampsAtBounds(t *testing.T) {
	r := New()
	now := time.Now()
	r.Upsert(Peer{PeerID: "p1", LastSeen: now, ReputationScore: ReputationInitial})

	for i := 0; i < 200; i++ {
		require.NoError(t, r.AdjustReputation("p1", DeltaValidMessage, now))
	}
	got, _ := r.Get("p1")
	require.Equal(t, ReputationMax, got.ReputationScore)

	for i := 0; i < 50; i++ {
		require.NoError(t, r.AdjustReputation("p1", DeltaInvalidSignature, now))
	}
	got, _ = r.Get("p1")
	require.Equal(t, ReputationMin, got.ReputationScore)
}

func TestAdjustReputationAutoBlacklistsBelowThreshold(t *testing.T) {
	r := New()
	now := time.Now()
	r.Upsert(Peer{PeerID: "p1", LastSeen: now, ReputationScore: ReputationBlacklistThreshold + 5})

	require.NoError(t, r.AdjustReputation("p1", DeltaInvalidSignature, now))
	require.True(t, r.IsBlacklisted("p1", now))

	got, _ := r.Get("p1")
	require.WithinDuration(t, now.Add(BlacklistBaseDuration), got.BlacklistedUntil, time.Second)
}

func TestAutoBlacklistDurationDoublesPerStrike(t *testing.T) {
	r := New()
	now := time.Now()
	r.Upsert(Peer{PeerID: "p1", LastSeen: now, ReputationScore: ReputationBlacklistThreshold + 5})

	require.NoError(t, r.AdjustReputation("p1", DeltaInvalidSignature, now))
	got, _ := r.Get("p1")
	first := got.BlacklistedUntil.Sub(now)

	got.ReputationScore = ReputationBlacklistThreshold + 5
	r.Upsert(got)
	require.NoError(t, r.AdjustReputation("p1", DeltaInvalidSignature, now))
	got, _ = r.Get("p1")
	second := got.BlacklistedUntil.Sub(now)

	require.Equal(t, first*2, second)
}

func TestAutoBlacklistDurationCapsAt24h(t *testing.T) {
	r := New()
	now := time.Now()
	r.Upsert(Peer{PeerID: "p1", LastSeen: now, ReputationScore: ReputationBlacklistThreshold + 5})

	for i := 0; i < 10; i++ {
		got, _ := r.Get("p1")
		got.ReputationScore = ReputationBlacklistThreshold + 5
		r.Upsert(got)
		require.NoError(t, r.AdjustReputation("p1", DeltaInvalidSignature, now))
	}
	got, _ := r.Get("p1")
	require.Equal(t, BlacklistMaxDuration, got.BlacklistedUntil.Sub(now))
}

func TestIsBlacklistedFalseAfterDeadline(t *testing.T) {
	r := New()
	now := time.Now()
	r.Upsert(Peer{PeerID: "p1", LastSeen: now})
	require.NoError(t, r.Blacklist("p1", now, time.Hour))

	require.True(t, r.IsBlacklisted("p1", now))
	require.False(t, r.IsBlacklisted("p1", now.Add(2*time.Hour)))
}

func TestRateLimiterBuckets(t *testing.T) {
	r := New()
	now := time.Now()
	r.Upsert(Peer{PeerID: "p1", LastSeen: now})

	allowed := 0
	for i := 0; i < connCapacity+5; i++ {
		if r.TryConsumeConnection("p1", now) {
			allowed++
		}
	}
	require.Equal(t, connCapacity, allowed)
}

func TestHealthScoreImprovesWithGoodSamples(t *testing.T) {
	r := New()
	now := time.Now()
	r.Upsert(Peer{PeerID: "p1", LastSeen: now})

	require.NoError(t, r.RecordHealthSample("p1", 0.9, 1800, false, now))
	bad, _ := r.Get("p1")

	for i := 0; i < 20; i++ {
		require.NoError(t, r.RecordHealthSample("p1", 0.0, 10, true, now))
	}
	good, _ := r.Get("p1")
	require.Greater(t, good.HealthScore, bad.HealthScore)
}

func TestGetUnknownPeerReturnsNotFound(t *testing.T) {
	r := New()
	_, err := r.Get("ghost")
	require.ErrorIs(t, err, ErrPeerNotFound)
}
