package transport

import (
	"context"
	"sync"
)

// MockNetwork is a shared in-process broadcast medium several MockTransport
// instances attach to, standing in for a real local/BLE/WebRTC link during
// tests and the demo entrypoint. Unlike the teacher's single process-wide
// bus, a MockNetwork is a value the test constructs explicitly, so separate
// tests never leak peers into one another.
type MockNetwork struct {
	mu    sync.Mutex
	nodes map[string]*MockTransport
}

func NewMockNetwork() *MockNetwork {
	return &MockNetwork{nodes: make(map[string]*MockTransport)}
}

func (n *MockNetwork) register(peerID string, t *MockTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[peerID] = t
}

func (n *MockNetwork) unregister(peerID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, peerID)
}

func (n *MockNetwork) lookup(peerID string) (*MockTransport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.nodes[peerID]
	return t, ok
}

// MockTransport is a Transport backend wired to a MockNetwork: every other
// node registered on the same network is reachable, with Connect/Disconnect
// simulating link up/down without any real I/O (spec §4.9's framing
// concerns don't apply — frames pass through as complete values).
type MockTransport struct {
	mu       sync.RWMutex
	selfID   string
	net      *MockNetwork
	events   Events
	peers    map[string]PeerKind
	started  bool
}

func NewMockTransport(net *MockNetwork, selfID string) *MockTransport {
	return &MockTransport{net: net, selfID: selfID, peers: make(map[string]PeerKind)}
}

func (t *MockTransport) Start(_ context.Context, events Events) error {
	t.mu.Lock()
	t.events = events
	t.started = true
	t.mu.Unlock()
	t.net.register(t.selfID, t)
	return nil
}

func (t *MockTransport) Stop(_ context.Context) error {
	t.net.unregister(t.selfID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
	for peerID := range t.peers {
		delete(t.peers, peerID)
	}
	return nil
}

// Connect simulates this side of a link coming up with otherID, firing
// OnPeerConnected on this transport's events only; the other side calls
// Connect for its own half (test/demo driver calls this; a real backend
// would call it from its own dial/accept logic).
func (t *MockTransport) Connect(otherID string, kind PeerKind) {
	t.mu.Lock()
	t.peers[otherID] = kind
	events := t.events
	t.mu.Unlock()
	if events != nil {
		events.OnPeerConnected(otherID, kind)
	}
}

func (t *MockTransport) Disconnect(otherID string, reason DisconnectReason) {
	t.mu.Lock()
	_, ok := t.peers[otherID]
	delete(t.peers, otherID)
	events := t.events
	t.mu.Unlock()
	if ok && events != nil {
		events.OnPeerDisconnected(otherID, reason)
	}
}

func (t *MockTransport) SendFrame(_ context.Context, peerID string, raw []byte) SendResult {
	t.mu.RLock()
	_, linked := t.peers[peerID]
	t.mu.RUnlock()
	if !linked {
		return SendResultTransient
	}

	target, ok := t.net.lookup(peerID)
	if !ok {
		return SendResultPermanent
	}

	target.mu.RLock()
	_, targetLinked := target.peers[t.selfID]
	targetEvents := target.events
	target.mu.RUnlock()
	if !targetLinked || targetEvents == nil {
		return SendResultTransient
	}

	cp := append([]byte(nil), raw...)
	go targetEvents.OnFrameReceived(t.selfID, cp)
	return SendResultOK
}

func (t *MockTransport) Close(peerID string) error {
	t.Disconnect(peerID, DisconnectClosedLocal)
	return nil
}

func (t *MockTransport) Connected(peerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.peers[peerID]
	return ok
}

func (t *MockTransport) ConnectedPeerIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}
