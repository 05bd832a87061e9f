// Command mirage-host is the input-sharing daemon: it captures the local
// pointer, discovers peers on the LAN and arbitrates mouse ownership across
// sessions. Video streaming, transport and pairing are external
// collaborators.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/wirdani84/project-mirage/config"
	"github.com/wirdani84/project-mirage/discovery"
	"github.com/wirdani84/project-mirage/identity"
	"github.com/wirdani84/project-mirage/input"
	"github.com/wirdani84/project-mirage/models"
	"github.com/wirdani84/project-mirage/session"
	"github.com/wirdani84/project-mirage/storage"
)

// TODO: query the display server for real dimensions instead of assuming
// a single 1920x1080 screen.
const (
	defaultScreenWidth  = 1920
	defaultScreenHeight = 1080
)

func main() {
	nameFlag := flag.String("name", "", "node name override (defaults to configured name or hostname)")
	dataDirFlag := flag.String("data-dir", "", "data directory override")
	flag.Parse()

	cfg, cfgPath, err := loadConfig(*dataDirFlag)
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("startup failed, invalid config: %v", err)
	}
	if *nameFlag != "" {
		cfg.Host.Name = *nameFlag
	}

	dataDir := filepath.Dir(cfgPath)
	ident, err := identity.Ensure(cfg.Host.NodeID, dataDir, cfg.Security.KeyPath, cfg.Security.CertPath)
	if err != nil {
		log.Fatalf("startup failed while preparing node identity: %v", err)
	}

	fmt.Printf("Node ID:         %s\n", ident.NodeID)
	fmt.Printf("Node Name:       %s\n", cfg.Host.Name)
	fmt.Printf("Control Port:    %d\n", cfg.Network.ControlPort)
	fmt.Printf("Fingerprint:     %s\n", identity.FormatFingerprint(ident.Fingerprint))
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	engine, err := input.NewEngine(input.Options{
		ScreenWidth:       defaultScreenWidth,
		ScreenHeight:      defaultScreenHeight,
		EdgeThreshold:     float64(cfg.Host.DisplayEdgeThreshold),
		MouseAcceleration: cfg.Input.MouseAcceleration,
		SmoothScroll:      cfg.Input.EnableSmoothScroll,
	})
	if err != nil {
		log.Fatalf("startup failed while initializing input capture: %v", err)
	}
	if engine.Disabled() {
		log.Printf("input: no suitable pointer device found, capture disabled")
	} else {
		engine.Start()
		defer engine.Stop()
	}

	subnets, err := cfg.ParsedSubnets()
	if err != nil {
		log.Fatalf("startup failed, invalid config: %v", err)
	}
	discoveryService, err := discovery.Start(discovery.Config{
		NodeID:      ident.NodeID,
		NodeName:    cfg.Host.Name,
		OSType:      runtime.GOOS,
		ControlPort: cfg.Network.ControlPort,
		Capabilities: models.Capabilities{
			CanHostPointer:    !engine.Disabled(),
			CanCaptureWindows: true,
			CanRenderStreams:  true,
			VideoCodecs:       []string{cfg.Streaming.Codec},
		},
		Fingerprint:    ident.Fingerprint,
		AllowedSubnets: subnets,
	})
	if err != nil {
		log.Fatalf("startup failed while starting discovery: %v", err)
	}
	defer discoveryService.Stop()
	fmt.Println("Discovery:       running")

	coordinator := session.NewCoordinator(session.Options{
		IdleTimeout:  cfg.SessionTimeout(),
		EdgeBindings: edgeBindings(cfg.Topology),
		EdgeDebounce: cfg.EdgeActivationDelay(),
		Peers:        discoveryService.Registry,
		Store:        store,
	})
	coordinator.Start()
	defer coordinator.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if changes, err := config.Watch(ctx, cfgPath); err != nil {
		log.Printf("config watch unavailable: %v", err)
	} else {
		go func() {
			for range changes {
				log.Printf("config: %s changed on disk, restart to apply", cfgPath)
			}
		}()
	}

	go persistDiscoveryEvents(discoveryService.Registry.Events(), store)
	go logNotifications(coordinator.Notifications())
	go routeInputEvents(engine.Events(), coordinator, nil)

	fmt.Println("Status:          running (press Ctrl+C to stop)")

	// Fail fast: a dead background loop takes the daemon down rather than
	// silently restarting.
	select {
	case <-ctx.Done():
		fmt.Println("Status:          shutting down")
	case err := <-engine.Errors():
		log.Fatalf("input capture failed: %v", err)
	case err := <-discoveryService.Registry.Errors():
		log.Fatalf("discovery failed: %v", err)
	}
}

func loadConfig(dataDirOverride string) (*config.Config, string, error) {
	if dataDirOverride != "" {
		return config.LoadOrCreateAt(dataDirOverride)
	}
	return config.LoadOrCreate()
}

// edgeBindings converts the configured topology into the coordinator's
// binding map, skipping unbound edges.
func edgeBindings(topology config.TopologyConfig) map[input.Edge]string {
	bindings := make(map[input.Edge]string)
	if topology.Left != "" {
		bindings[input.EdgeLeft] = topology.Left
	}
	if topology.Right != "" {
		bindings[input.EdgeRight] = topology.Right
	}
	if topology.Top != "" {
		bindings[input.EdgeTop] = topology.Top
	}
	if topology.Bottom != "" {
		bindings[input.EdgeBottom] = topology.Bottom
	}
	return bindings
}

// routeInputEvents drains the capture stream: edge crossings drive
// ownership arbitration, everything else is forwarded when a transport is
// wired and a session owns the pointer remotely.
func routeInputEvents(events <-chan input.Event, coordinator *session.Coordinator, transport session.Transport) {
	for ev := range events {
		if ev.Type == input.EventEdgeCrossed {
			coordinator.HandleEdgeCrossed(ev)
			continue
		}
		if transport == nil {
			continue
		}
		for _, sess := range coordinator.Sessions() {
			if sess.MouseOwner != session.OwnerRemote {
				continue
			}
			if err := transport.ForwardInput(context.Background(), sess.SessionID, "", ev); err != nil {
				log.Printf("transport: forward to session %s failed: %v", sess.SessionID, err)
			}
		}
	}
}

// persistDiscoveryEvents mirrors registry changes into storage. Storage
// errors stay local to the affected peer record.
func persistDiscoveryEvents(events <-chan discovery.Event, store *storage.Store) {
	for event := range events {
		switch event.Type {
		case discovery.EventPeerDiscovered, discovery.EventPeerUpdated:
			if err := store.UpsertPeer(event.Peer); err != nil {
				log.Printf("storage: upsert peer %s: %v", event.Peer.NodeID, err)
			}
		case discovery.EventPeerLost:
			if err := store.MarkPeerLost(event.Peer.NodeID); err != nil {
				log.Printf("storage: mark peer lost %s: %v", event.Peer.NodeID, err)
			}
		}
	}
}

func logNotifications(notifications <-chan session.Notification) {
	for notification := range notifications {
		s := notification.Session
		log.Printf("session: %s session=%s peer=%q owner=%s",
			notification.Type, s.SessionID, s.PeerName, s.MouseOwner)
	}
}
