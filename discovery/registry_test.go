package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func testEntry(nodeID, instance string, port int, ip string) *zeroconf.ServiceEntry {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: *zeroconf.NewServiceRecord(instance, ServiceType, Domain),
		HostName:      instance + ".local",
		Port:          port,
		TTL:           120,
		Text: []string{
			"node_id=" + nodeID,
			"os_type=linux",
			"can_host_pointer=true",
			"can_capture_windows=false",
			"can_render_streams=true",
			"video_codecs=h264,h265",
			"fingerprint=fp-" + nodeID,
		},
	}
	if parsed := net.ParseIP(ip); parsed != nil {
		entry.AddrIPv4 = []net.IP{parsed}
	}
	return entry
}

func removalEntry(instance string) *zeroconf.ServiceEntry {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: *zeroconf.NewServiceRecord(instance, ServiceType, Domain),
	}
	entry.TTL = 0
	return entry
}

// scriptedBrowse feeds entries pushed into feed until the browse context is
// cancelled.
func scriptedBrowse(feed <-chan *zeroconf.ServiceEntry) browseFunc {
	return func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
		for {
			select {
			case entry := <-feed:
				select {
				case entries <- entry:
				case <-ctx.Done():
					return nil
				}
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func newTestRegistry(t *testing.T, cfg Config, feed <-chan *zeroconf.ServiceEntry) *Registry {
	t.Helper()
	cfg.NodeID = "self-node"
	cfg.browseFn = scriptedBrowse(feed)

	registry, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	registry.Start()
	t.Cleanup(registry.Stop)
	return registry
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s", timeout)
}

func waitForEvent(t *testing.T, events <-chan Event, eventType EventType, nodeID string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s/%s", eventType, nodeID)
			}
			if event.Type == eventType && event.Peer.NodeID == nodeID {
				return event
			}
		case <-deadline:
			t.Fatalf("no %s event for %s before timeout", eventType, nodeID)
		}
	}
}

func TestRegistryDiscoverThenUpdate(t *testing.T) {
	feed := make(chan *zeroconf.ServiceEntry, 8)
	registry := newTestRegistry(t, Config{}, feed)

	feed <- testEntry("peer-1", "Alice", 8443, "192.168.1.20")
	event := waitForEvent(t, registry.Events(), EventPeerDiscovered, "peer-1")
	if !event.Peer.Capabilities.CanHostPointer || event.Peer.Capabilities.CanCaptureWindows {
		t.Errorf("capabilities = %+v", event.Peer.Capabilities)
	}
	if len(event.Peer.Capabilities.VideoCodecs) != 2 {
		t.Errorf("codecs = %v, want two entries", event.Peer.Capabilities.VideoCodecs)
	}
	firstSeen := event.Peer.LastSeen

	// Same identity again: an update, never a second discovery.
	feed <- testEntry("peer-1", "Alice", 9001, "192.168.1.20")
	updated := waitForEvent(t, registry.Events(), EventPeerUpdated, "peer-1")
	if updated.Peer.ControlPort != 9001 {
		t.Errorf("control port = %d, want the refreshed 9001", updated.Peer.ControlPort)
	}
	if updated.Peer.LastSeen.Before(firstSeen) {
		t.Error("last_seen went backwards on update")
	}

	peers := registry.Peers()
	if len(peers) != 1 {
		t.Fatalf("registry holds %d peers, want 1", len(peers))
	}
}

func TestRegistryNeverRegistersSelf(t *testing.T) {
	feed := make(chan *zeroconf.ServiceEntry, 8)
	registry := newTestRegistry(t, Config{}, feed)

	feed <- testEntry("self-node", "Myself", 8443, "192.168.1.5")
	feed <- testEntry("peer-1", "Alice", 8443, "192.168.1.20")

	waitForEvent(t, registry.Events(), EventPeerDiscovered, "peer-1")

	if _, ok := registry.Peer("self-node"); ok {
		t.Fatal("own identity must never enter the registry")
	}
}

func TestRegistrySkipsMalformedAdvertisement(t *testing.T) {
	feed := make(chan *zeroconf.ServiceEntry, 8)
	registry := newTestRegistry(t, Config{}, feed)

	broken := testEntry("", "Broken", 8443, "192.168.1.30")
	feed <- broken
	feed <- testEntry("peer-1", "Alice", 8443, "192.168.1.20")

	waitForEvent(t, registry.Events(), EventPeerDiscovered, "peer-1")
	if got := len(registry.Peers()); got != 1 {
		t.Fatalf("registry holds %d peers, want only the well-formed one", got)
	}
}

func TestRegistrySubnetFilter(t *testing.T) {
	_, allowed, err := net.ParseCIDR("192.168.0.0/16")
	if err != nil {
		t.Fatal(err)
	}

	feed := make(chan *zeroconf.ServiceEntry, 8)
	registry := newTestRegistry(t, Config{AllowedSubnets: []*net.IPNet{allowed}}, feed)

	feed <- testEntry("peer-out", "Outsider", 8443, "203.0.113.9")
	feed <- testEntry("peer-in", "Insider", 8443, "192.168.1.20")

	waitForEvent(t, registry.Events(), EventPeerDiscovered, "peer-in")
	if _, ok := registry.Peer("peer-out"); ok {
		t.Fatal("peer outside allowed subnets must be rejected")
	}
}

func TestRegistryRemovalNoticeByNameCorrelation(t *testing.T) {
	feed := make(chan *zeroconf.ServiceEntry, 8)
	registry := newTestRegistry(t, Config{}, feed)

	feed <- testEntry("peer-1", "Alice", 8443, "192.168.1.20")
	waitForEvent(t, registry.Events(), EventPeerDiscovered, "peer-1")

	feed <- removalEntry("Alice")
	waitForEvent(t, registry.Events(), EventPeerLost, "peer-1")

	waitForCondition(t, time.Second, func() bool {
		return len(registry.Peers()) == 0
	})
}

func TestRegistryLivenessSweepEvictsStalePeers(t *testing.T) {
	feed := make(chan *zeroconf.ServiceEntry, 8)
	registry := newTestRegistry(t, Config{
		PeerTTL:       60 * time.Millisecond,
		SweepInterval: 20 * time.Millisecond,
	}, feed)

	// No removal notice ever arrives; the sweep alone must evict.
	feed <- testEntry("peer-1", "Alice", 8443, "192.168.1.20")
	waitForEvent(t, registry.Events(), EventPeerDiscovered, "peer-1")

	waitForEvent(t, registry.Events(), EventPeerLost, "peer-1")
	if _, ok := registry.Peer("peer-1"); ok {
		t.Fatal("stale peer still present after sweep")
	}
}

func TestTXTRecordRoundTrip(t *testing.T) {
	cfg := Config{
		NodeID:      "node-9",
		NodeName:    "Workstation",
		OSType:      "linux",
		ControlPort: 8443,
		Fingerprint: "abcd",
	}
	cfg.Capabilities.CanHostPointer = true
	cfg.Capabilities.VideoCodecs = []string{"h264"}

	txt := txtToMap(txtRecords(cfg))
	if txt["node_id"] != "node-9" || txt["os_type"] != "linux" {
		t.Errorf("txt = %v", txt)
	}
	if txt["can_host_pointer"] != "true" || txt["can_render_streams"] != "false" {
		t.Errorf("capability flags = %v", txt)
	}
	if txt["video_codecs"] != "h264" {
		t.Errorf("video_codecs = %q", txt["video_codecs"])
	}
}
