package core

import (
	"sync"
	"time"
)

// Stats is the read-only snapshot returned by Core.Stats (spec §6's
// stats()). Field set grounded on the teacher's ServiceMetricsState.Snapshot,
// generalized from RPC-call counters to the mesh's own operation set.
type Stats struct {
	MessagesSent     int
	MessagesRelayed  int
	MessagesDropped  map[string]int
	DedupHits        int
	RetryAttempts    int
	ConnectedPeers   int
	QueueDepth       uint64
	LastUpdatedAt    time.Time
}

// metricsState is the mutable counter set behind Stats, adapted from
// internal/app.ServiceMetricsState: a mutex-protected map of named counters
// plus a handful of scalars, read out through a defensive-copy Snapshot.
type metricsState struct {
	mu              sync.RWMutex
	messagesSent    int
	messagesRelayed int
	messagesDropped map[string]int
	dedupHits       int
	retryAttempts   int
	lastUpdatedAt   time.Time
}

func newMetricsState() *metricsState {
	return &metricsState{messagesDropped: make(map[string]int)}
}

func (m *metricsState) recordSent() {
	m.mu.Lock()
	m.messagesSent++
	m.lastUpdatedAt = time.Now()
	m.mu.Unlock()
}

func (m *metricsState) recordRelayed(n int) {
	if n == 0 {
		return
	}
	m.mu.Lock()
	m.messagesRelayed += n
	m.lastUpdatedAt = time.Now()
	m.mu.Unlock()
}

func (m *metricsState) recordDropped(reason string) {
	m.mu.Lock()
	m.messagesDropped[reason]++
	m.lastUpdatedAt = time.Now()
	m.mu.Unlock()
}

func (m *metricsState) recordDedupHit() {
	m.mu.Lock()
	m.dedupHits++
	m.lastUpdatedAt = time.Now()
	m.mu.Unlock()
}

func (m *metricsState) recordRetry() {
	m.mu.Lock()
	m.retryAttempts++
	m.lastUpdatedAt = time.Now()
	m.mu.Unlock()
}

func (m *metricsState) snapshot(connectedPeers int, queueDepth uint64) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dropped := make(map[string]int, len(m.messagesDropped))
	for k, v := range m.messagesDropped {
		dropped[k] = v
	}
	return Stats{
		MessagesSent:    m.messagesSent,
		MessagesRelayed: m.messagesRelayed,
		MessagesDropped: dropped,
		DedupHits:       m.dedupHits,
		RetryAttempts:   m.retryAttempts,
		ConnectedPeers:  connectedPeers,
		QueueDepth:      queueDepth,
		LastUpdatedAt:   m.lastUpdatedAt,
	}
}
