package core

import (
	"time"

	"meshcore/internal/registry"
	"meshcore/internal/routing"
	"meshcore/internal/transport"
)

// Config aggregates every subsystem's tunables into one yaml-decodable
// document (teacher convention: internal/waku.Config, internal/bootstrap
// /wakuconfig — one struct per concern, defaults applied after decode).
type Config struct {
	DisplayName string `yaml:"displayName"`

	Transport transport.Config `yaml:"transport"`

	RoutingMode string              `yaml:"routingMode"`
	Gossip      routing.GossipConfig `yaml:"gossip"`
	GossipSeed  int64                `yaml:"gossipSeed"`

	StorePath       string `yaml:"storePath"`
	StorePassphrase string `yaml:"storePassphrase"`

	DedupCapacity       int           `yaml:"dedupCapacity"`
	TickInterval        time.Duration `yaml:"tickInterval"`
	NotificationBacklog int           `yaml:"notificationBacklog"`
}

const (
	RoutingModeFlood  = "flood"
	RoutingModeGossip = "gossip"
	RoutingModeHybrid = "hybrid"
)

func DefaultConfig() Config {
	return Config{
		DisplayName:         "meshcore-node",
		Transport:           transport.DefaultConfig(),
		RoutingMode:         RoutingModeHybrid,
		Gossip:              routing.DefaultGossipConfig(),
		GossipSeed:          1,
		DedupCapacity:       4096,
		TickInterval:        30 * time.Second,
		NotificationBacklog: 256,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.DisplayName == "" {
		cfg.DisplayName = def.DisplayName
	}
	if cfg.RoutingMode == "" {
		cfg.RoutingMode = def.RoutingMode
	}
	if cfg.Gossip.Fanout <= 0 {
		cfg.Gossip = def.Gossip
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = def.DedupCapacity
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.NotificationBacklog <= 0 {
		cfg.NotificationBacklog = def.NotificationBacklog
	}
	cfg.Transport = normalizeTransportConfig(cfg.Transport)
	return cfg
}

func normalizeTransportConfig(cfg transport.Config) transport.Config {
	if cfg.Backend == "" {
		cfg.Backend = transport.BackendMock
	}
	if cfg.MinPeers == 0 {
		cfg.MinPeers = transport.DefaultConfig().MinPeers
	}
	return cfg
}

func buildRouter(cfg Config) routing.Router {
	switch cfg.RoutingMode {
	case RoutingModeFlood:
		return routing.NewFloodRouter()
	case RoutingModeGossip:
		return routing.NewGossipRouter(cfg.Gossip, cfg.GossipSeed)
	default:
		return routing.NewHybridRouter(cfg.Gossip, cfg.GossipSeed)
	}
}

// transportKindFor maps a transport.PeerKind to the registry's own notion
// of link kind, so peer bookkeeping doesn't need to import transport.
func transportKindFor(kind transport.PeerKind) registry.TransportKind {
	switch kind {
	case transport.PeerWebRTC:
		return registry.TransportWebRTC
	case transport.PeerBLE:
		return registry.TransportBLE
	default:
		return registry.TransportLocal
	}
}
