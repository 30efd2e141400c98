package core

import (
	"sync"
	"time"
)

// MessageEvent is delivered to OnMessage subscribers for every frame this
// node successfully decrypted for itself (spec §6's on_message).
type MessageEvent struct {
	SenderID string
	Payload  []byte
	At       time.Time
}

// PeerEventKind distinguishes a peer link coming up from going down.
type PeerEventKind int

const (
	PeerConnected PeerEventKind = iota
	PeerDisconnected
)

func (k PeerEventKind) String() string {
	if k == PeerConnected {
		return "connected"
	}
	return "disconnected"
}

// PeerEvent is delivered to OnPeerEvent subscribers (spec §6's on_peer_event).
type PeerEvent struct {
	PeerID string
	Kind   PeerEventKind
	At     time.Time
}

// SecurityAlert is delivered to OnSecurityAlert subscribers (spec §6's
// on_security_alert). The relay engine raises one for session nonce reuse
// only; an envelope with a bad signature lowers the sender's reputation
// (spec §4.5's reputation table) but raises no alert.
type SecurityAlert struct {
	PeerID string
	Reason string
	At     time.Time
}

// hub fans out the three observer event streams the control surface
// exposes. Grounded on the teacher's NotificationHub (runtime.go), it keeps
// live subscriber callbacks per stream only: no event history is retained,
// and limit is stored but bounds nothing. It is generalized
// from one generic "method/payload" event to three typed ones since the
// control surface here has a fixed, small set of event kinds rather than an
// open JSON-RPC notification namespace.
type hub struct {
	mu      sync.Mutex
	limit   int
	nextID  int
	onMsg   map[int]func(MessageEvent)
	onPeer  map[int]func(PeerEvent)
	onAlert map[int]func(SecurityAlert)
}

func newHub(limit int) *hub {
	if limit < 1 {
		limit = 1
	}
	return &hub{
		limit:   limit,
		onMsg:   make(map[int]func(MessageEvent)),
		onPeer:  make(map[int]func(PeerEvent)),
		onAlert: make(map[int]func(SecurityAlert)),
	}
}

func (h *hub) onMessage(fn func(MessageEvent)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.onMsg[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.onMsg, id)
		h.mu.Unlock()
	}
}

func (h *hub) onPeerEvent(fn func(PeerEvent)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.onPeer[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.onPeer, id)
		h.mu.Unlock()
	}
}

func (h *hub) onSecurityAlert(fn func(SecurityAlert)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.onAlert[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.onAlert, id)
		h.mu.Unlock()
	}
}

func (h *hub) publishMessage(ev MessageEvent) {
	h.mu.Lock()
	subs := make([]func(MessageEvent), 0, len(h.onMsg))
	for _, fn := range h.onMsg {
		subs = append(subs, fn)
	}
	h.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (h *hub) publishPeerEvent(ev PeerEvent) {
	h.mu.Lock()
	subs := make([]func(PeerEvent), 0, len(h.onPeer))
	for _, fn := range h.onPeer {
		subs = append(subs, fn)
	}
	h.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (h *hub) publishSecurityAlert(ev SecurityAlert) {
	h.mu.Lock()
	subs := make([]func(SecurityAlert), 0, len(h.onAlert))
	for _, fn := range h.onAlert {
		subs = append(subs, fn)
	}
	h.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}
