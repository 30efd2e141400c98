// Package transport implements the byte-stream abstraction the core
// consumes (spec §4.9): per-peer connection lifecycle events and framed
// send/receive, with framing (WebRTC data channels, BLE GATT MTU
// fragmentation, local UDP) left entirely to the backend.
package transport

import (
	"context"
	"time"
)

// PeerKind identifies which underlying link carries a peer connection
// (spec §3's transport_kind).
type PeerKind string

const (
	PeerWebRTC PeerKind = "webrtc"
	PeerBLE    PeerKind = "ble"
	PeerLocal  PeerKind = "local"
)

// DisconnectReason explains why peer_disconnected fired.
type DisconnectReason string

const (
	DisconnectClosedByPeer DisconnectReason = "closed_by_peer"
	DisconnectClosedLocal  DisconnectReason = "closed_local"
	DisconnectTimeout      DisconnectReason = "timeout"
	DisconnectError        DisconnectReason = "error"
)

// SendResult classifies the outcome of SendFrame into the retriable /
// permanent split of spec §7 (TransportTransient / TransportPermanent).
type SendResult int

const (
	SendResultOK SendResult = iota
	SendResultTransient
	SendResultPermanent
)

func (r SendResult) String() string {
	switch r {
	case SendResultOK:
		return "ok"
	case SendResultTransient:
		return "transient"
	case SendResultPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Events is the callback set a Transport drives; the core's composition
// root implements it by feeding frames into the relay engine.
type Events interface {
	OnPeerConnected(peerID string, kind PeerKind)
	OnPeerDisconnected(peerID string, reason DisconnectReason)
	OnFrameReceived(peerID string, raw []byte)
}

// Transport is the C9 abstraction: a per-peer byte stream with connection
// lifecycle events, consumed by the relay engine (as a relay.Sender) and
// driven by whatever link technology the backend wraps.
type Transport interface {
	Start(ctx context.Context, events Events) error
	Stop(ctx context.Context) error

	// SendFrame transmits raw to peerID. Framing and fragmentation (BLE's
	// 512-byte MTU, WebRTC data channel chunking) are internal to the
	// backend; raw is always one complete wire.Envelope.
	SendFrame(ctx context.Context, peerID string, raw []byte) SendResult
	Close(peerID string) error

	Connected(peerID string) bool
	ConnectedPeerIDs() []string
}

// Config is the subsystem configuration shared by every backend (spec
// §4.9 leaves link setup out of scope; these are the knobs the core
// itself cares about: which backend, and how patient to be with it).
type Config struct {
	Backend             string        `yaml:"backend"`
	BootstrapNodes      []string      `yaml:"bootstrapNodes"`
	MinPeers            int           `yaml:"minPeers"`
	Port                int           `yaml:"port"`
	ReconnectInterval   time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoffMax time.Duration `yaml:"reconnectBackoffMax"`
}

const (
	BackendMock   = "mock"
	BackendGoWaku = "go-waku"
)

func DefaultConfig() Config {
	return Config{
		Backend:             BackendMock,
		MinPeers:            2,
		Port:                60000,
		ReconnectInterval:   time.Second,
		ReconnectBackoffMax: 30 * time.Second,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Backend == "" {
		cfg.Backend = def.Backend
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectBackoffMax <= 0 {
		cfg.ReconnectBackoffMax = def.ReconnectBackoffMax
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectInterval {
		cfg.ReconnectBackoffMax = cfg.ReconnectInterval
	}
	if cfg.MinPeers < 0 {
		cfg.MinPeers = 0
	}
	return cfg
}
