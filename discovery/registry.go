package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/wirdani84/project-mirage/models"
)

const (
	// EventPeerDiscovered is emitted the first time an identity resolves.
	EventPeerDiscovered EventType = "peer_discovered"
	// EventPeerUpdated is emitted on subsequent resolutions of a known identity.
	EventPeerUpdated EventType = "peer_updated"
	// EventPeerLost is emitted on a removal notice or liveness eviction.
	EventPeerLost EventType = "peer_lost"
)

// EventType identifies peer registry updates.
type EventType string

// Event carries registry updates for the session coordinator and storage.
type Event struct {
	Type EventType
	Peer models.PeerDevice
}

// Registry maintains the discovered-peer table. Resolver callbacks hand
// entries to a single owner goroutine over a bounded channel; the table
// itself is guarded by a read/write lock scoped to one operation.
type Registry struct {
	cfg Config

	browse browseFunc

	mu    sync.RWMutex
	peers map[string]models.PeerDevice

	events chan Event
	errs   chan error

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a registry with config defaults applied.
func NewRegistry(config Config) (*Registry, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("node ID is required")
	}

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	return &Registry{
		cfg:    cfg,
		browse: browse,
		peers:  make(map[string]models.PeerDevice),
		events: make(chan Event, 128),
		errs:   make(chan error, 1),
	}, nil
}

// Start begins browsing for peer advertisements. Idempotent; failures after
// this point surface on Errors.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		r.ctx, r.cancel = context.WithCancel(context.Background())
		r.wg.Add(1)
		go r.run()
	})
}

// Stop halts browsing and closes the event stream.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
		close(r.events)
	})
}

// Events provides asynchronous registry updates.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Errors reports a fatal termination of the browse loop.
func (r *Registry) Errors() <-chan error {
	return r.errs
}

// Peers returns a sorted snapshot of the registry.
func (r *Registry) Peers() []models.PeerDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.PeerDevice, 0, len(r.peers))
	for _, peer := range r.peers {
		out = append(out, peer)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].NodeName == out[j].NodeName {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].NodeName < out[j].NodeName
	})
	return out
}

// Peer returns one registry entry by node ID.
func (r *Registry) Peer(nodeID string) (models.PeerDevice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[nodeID]
	return peer, ok
}

// run owns all registry mutation. The zeroconf resolver writes into the
// bounded entries channel and is never blocked by registry work beyond one
// short lock scope.
func (r *Registry) run() {
	defer r.wg.Done()

	entries := make(chan *zeroconf.ServiceEntry, 64)
	browseDone := make(chan error, 1)
	go func() {
		browseDone <- r.browse(r.ctx, ServiceType, Domain, entries)
	}()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-entries:
			if entry == nil {
				continue
			}
			r.handleEntry(entry)
		case <-ticker.C:
			r.sweep()
		case err := <-browseDone:
			if r.ctx.Err() != nil {
				return
			}
			if err == nil {
				err = errors.New("mDNS browse terminated")
			}
			// Browse loop death is fatal to the daemon, not retried.
			select {
			case r.errs <- fmt.Errorf("discovery browse: %w", err):
			default:
			}
			return
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Registry) handleEntry(entry *zeroconf.ServiceEntry) {
	if entry.TTL == 0 {
		r.handleRemoval(entry)
		return
	}

	peer, ok := r.parseEntry(entry)
	if !ok {
		return
	}
	r.upsert(peer)
}

// upsert applies one resolved advertisement: insert on a new identity,
// overwrite and refresh last_seen on a known one.
func (r *Registry) upsert(peer models.PeerDevice) {
	r.mu.Lock()
	existing, known := r.peers[peer.NodeID]
	peer.LastSeen = time.Now()
	if known && peer.LastSeen.Before(existing.LastSeen) {
		peer.LastSeen = existing.LastSeen
	}
	r.peers[peer.NodeID] = peer
	r.mu.Unlock()

	if known {
		r.emit(Event{Type: EventPeerUpdated, Peer: peer})
	} else {
		log.Printf("discovery: peer discovered id=%s name=%q os=%s addr=%s:%d",
			peer.NodeID, peer.NodeName, peer.OSType, peer.Addr, peer.ControlPort)
		r.emit(Event{Type: EventPeerDiscovered, Peer: peer})
	}
}

// handleRemoval correlates a removal notice with a registry entry. The
// notice carries only a service name, so the match is a best-effort
// substring correlation on node_name; peers it misses are caught by the
// liveness sweep.
func (r *Registry) handleRemoval(entry *zeroconf.ServiceEntry) {
	removedName := entry.ServiceInstanceName()
	if removedName == "" {
		removedName = entry.Instance
	}

	r.mu.Lock()
	var removed *models.PeerDevice
	for id, peer := range r.peers {
		if peer.NodeName != "" && strings.Contains(removedName, peer.NodeName) {
			p := peer
			removed = &p
			delete(r.peers, id)
			break
		}
	}
	r.mu.Unlock()

	if removed != nil {
		log.Printf("discovery: peer removed id=%s name=%q", removed.NodeID, removed.NodeName)
		r.emit(Event{Type: EventPeerLost, Peer: *removed})
	}
}

// sweep passively evicts peers whose advertisements stopped refreshing,
// covering removal notices lost to the network.
func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.cfg.PeerTTL)

	r.mu.Lock()
	var evicted []models.PeerDevice
	for id, peer := range r.peers {
		if peer.LastSeen.Before(cutoff) {
			evicted = append(evicted, peer)
			delete(r.peers, id)
		}
	}
	r.mu.Unlock()

	for _, peer := range evicted {
		log.Printf("discovery: peer stale, evicting id=%s name=%q last_seen=%s",
			peer.NodeID, peer.NodeName, peer.LastSeen.Format(time.RFC3339))
		r.emit(Event{Type: EventPeerLost, Peer: peer})
	}
}

func (r *Registry) emit(event Event) {
	select {
	case r.events <- event:
	default:
	}
}

// parseEntry validates one resolved advertisement. Malformed records are
// skipped with a log line and never affect other peers.
func (r *Registry) parseEntry(entry *zeroconf.ServiceEntry) (models.PeerDevice, bool) {
	txt := txtToMap(entry.Text)

	nodeID := strings.TrimSpace(txt["node_id"])
	if nodeID == "" {
		log.Printf("discovery: skipping advertisement %q: no node_id", entry.Instance)
		return models.PeerDevice{}, false
	}
	if nodeID == r.cfg.NodeID {
		// Never self-register.
		return models.PeerDevice{}, false
	}

	addr, ok := r.pickAddress(entry)
	if !ok {
		log.Printf("discovery: skipping advertisement %q: no address within allowed subnets", entry.Instance)
		return models.PeerDevice{}, false
	}

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSpace(entry.HostName)
	}
	if name == "" {
		name = nodeID
	}

	return models.PeerDevice{
		NodeID:      nodeID,
		NodeName:    name,
		OSType:      strings.TrimSpace(txt["os_type"]),
		Addr:        addr,
		ControlPort: entry.Port,
		Fingerprint: strings.TrimSpace(txt["fingerprint"]),
		Capabilities: models.Capabilities{
			CanHostPointer:    txt["can_host_pointer"] == "true",
			CanCaptureWindows: txt["can_capture_windows"] == "true",
			CanRenderStreams:  txt["can_render_streams"] == "true",
			VideoCodecs:       models.ParseCodecs(txt["video_codecs"]),
		},
	}, true
}

// pickAddress returns the first advertised address allowed by the subnet
// filter, preferring IPv4.
func (r *Registry) pickAddress(entry *zeroconf.ServiceEntry) (string, bool) {
	for _, ip := range append(append([]net.IP{}, entry.AddrIPv4...), entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		if r.addressAllowed(ip) {
			return ip.String(), true
		}
	}
	return "", false
}

func (r *Registry) addressAllowed(ip net.IP) bool {
	if len(r.cfg.AllowedSubnets) == 0 {
		return true
	}
	for _, subnet := range r.cfg.AllowedSubnets {
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
