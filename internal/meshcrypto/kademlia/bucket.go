package kademlia

import (
	"sort"
	"sync"
	"time"
)

const (
	// K is the bucket capacity (spec §4.6: k=20).
	K = 20
	// Alpha is the lookup parallelism (spec §4.6: α=3).
	Alpha = 3
	numBuckets = IDSize * 8
)

// Contact is a known remote node in the Kademlia overlay: a peer id paired
// with the routing hints (not application messages, spec §4.6) needed to
// reach it. The mesh-message data plane never uses this type directly —
// only the discovery collaborator does, via FindNode.
type Contact struct {
	ID       ID
	PeerID   string
	LastSeen time.Time
}

// Table is a set of k-buckets indexed by common-prefix length with the
// local id, the classic Kademlia routing table structure.
type Table struct {
	mu      sync.Mutex
	self    ID
	buckets [numBuckets + 1][]Contact
}

func NewTable(self ID) *Table {
	return &Table{self: self}
}

// Observe records (or refreshes) a contact, evicting the least-recently-seen
// entry when its bucket is full — the standard Kademlia LRU-eviction policy.
func (t *Table) Observe(c Contact) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := CommonPrefixLen(t.self, c.ID)
	bucket := t.buckets[idx]
	for i, existing := range bucket {
		if existing.ID == c.ID {
			bucket[i] = c
			return
		}
	}
	if len(bucket) < K {
		t.buckets[idx] = append(bucket, c)
		return
	}
	oldest := 0
	for i, existing := range bucket {
		if existing.LastSeen.Before(bucket[oldest].LastSeen) {
			oldest = i
		}
	}
	bucket[oldest] = c
}

// Closest returns up to n contacts ordered by ascending XOR distance to
// target — the candidate set an iterative FIND_NODE lookup converges on.
func (t *Table) Closest(target ID, n int) []Contact {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]Contact, 0, n*2)
	for _, bucket := range t.buckets {
		all = append(all, bucket...)
	}
	sort.Slice(all, func(i, j int) bool {
		return Less(Distance(all[i].ID, target), Distance(all[j].ID, target))
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, b := range t.buckets {
		total += len(b)
	}
	return total
}
