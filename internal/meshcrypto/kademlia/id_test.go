package kademlia

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNodeIDDeterministic(t *testing.T) {
	key := []byte("some public key bytes padded out to 32 b")
	require.Equal(t, NodeID(key), NodeID(key))
}

func TestDistanceSelfIsZero(t *testing.T) {
	id := NodeID([]byte("a"))
	var zero ID
	require.Equal(t, zero, Distance(id, id))
}

func TestTableClosestOrdering(t *testing.T) {
	self := NodeID([]byte("self"))
	table := NewTable(self)
	now := time.Now()
	for i := 0; i < 50; i++ {
		id := NodeID([]byte{byte(i)})
		table.Observe(Contact{ID: id, PeerID: string(rune('a' + i%26)), LastSeen: now})
	}
	target := NodeID([]byte("target"))
	closest := table.Closest(target, 5)
	require.Len(t, closest, 5)
	for i := 1; i < len(closest); i++ {
		require.True(t, !Less(Distance(closest[i].ID, target), Distance(closest[i-1].ID, target)) ||
			Distance(closest[i-1].ID, target) == Distance(closest[i].ID, target))
	}
}

func TestBucketEvictsOldestWhenFull(t *testing.T) {
	self := NodeID([]byte("self"))
	table := NewTable(self)
	now := time.Now()
	// Force K+5 contacts into one bucket (prefix length 0 with self, i.e.
	// ids whose top bit differs from self's) to exercise eviction.
	for i := 0; i < K+5; i++ {
		id := self
		id[0] ^= 0x80
		id[IDSize-1] = byte(i)
		table.Observe(Contact{ID: id, PeerID: "p", LastSeen: now.Add(time.Duration(i) * time.Second)})
	}
	require.Equal(t, K, table.Size())
	// The five oldest contacts (i = 0..4) are the ones evicted.
	for _, c := range table.Closest(self, K+5) {
		require.False(t, c.LastSeen.Before(now.Add(5*time.Second)))
	}
}
