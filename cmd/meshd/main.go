package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"meshcore/core"
	"meshcore/internal/corelog"
	"meshcore/internal/store"
	"meshcore/internal/transport"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for encrypted state (optional, defaults to in-memory)")
	passphrase := flag.String("passphrase", "", "Passphrase protecting the identity seed and store")
	peerAddr := flag.String("dial", "", "peer_id of a node to connect to on the mock network (demo only)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("meshd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	log := corelog.Default()

	cfg := core.DefaultConfig()
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			log.Error("read config", "error", err.Error())
			os.Exit(1)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Error("parse config", "error", err.Error())
			os.Exit(1)
		}
	}

	st, err := openStore(*dataDir, *passphrase)
	if err != nil {
		log.Error("open store", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	idMgr, err := core.LoadOrCreateIdentity(ctx, st, *passphrase)
	if err != nil {
		log.Error("load identity", "error", err.Error())
		os.Exit(1)
	}

	selfID := idMgr.GetIdentity().PeerID
	tr := demoTransport(selfID)

	c := core.New(cfg, idMgr, st, tr, log)
	unsubMsg := c.OnMessage(func(ev core.MessageEvent) {
		log.Info("message received", "sender_id", ev.SenderID, "bytes", len(ev.Payload))
	})
	defer unsubMsg()
	unsubPeer := c.OnPeerEvent(func(ev core.PeerEvent) {
		log.Info("peer event", "peer_id", ev.PeerID, "kind", ev.Kind.String())
	})
	defer unsubPeer()
	unsubAlert := c.OnSecurityAlert(func(ev core.SecurityAlert) {
		log.Warn("security alert", "peer_id", ev.PeerID, "reason", ev.Reason)
	})
	defer unsubAlert()

	log.Info("meshd starting", "peer_id", selfID, "routing_mode", cfg.RoutingMode)
	if err := c.Start(ctx); err != nil {
		log.Error("start failed", "error", err.Error())
		os.Exit(1)
	}

	if *peerAddr != "" {
		if mt, ok := tr.(*transport.MockTransport); ok {
			mt.Connect(*peerAddr, transport.PeerLocal)
			log.Info("dialed peer on mock network", "peer_id", *peerAddr)
		}
	}

	<-ctx.Done()
	log.Info("meshd stopping")

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		log.Error("stop failed", "error", err.Error())
	}
	log.Info("meshd stopped")
}

// openStore returns a file-backed adapter rooted at dataDir, or an
// in-memory one for a throwaway demo run.
func openStore(dataDir, passphrase string) (store.Adapter, error) {
	if dataDir == "" {
		return store.NewMemoryAdapter(), nil
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}
	return store.NewFileAdapter(dataDir+"/state.snapshot", passphrase)
}

// demoTransport returns a mock-network transport registered under the
// shared process-wide demo network. meshd always uses this mock transport;
// none of its flags selects the go-waku backend.
var demoNetwork = transport.NewMockNetwork()

func demoTransport(selfID string) transport.Transport {
	return transport.NewMockTransport(demoNetwork, selfID)
}
