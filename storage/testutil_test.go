package storage

import (
	"testing"
	"time"

	"github.com/wirdani84/project-mirage/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func testPeer(nodeID, name string) models.PeerDevice {
	return models.PeerDevice{
		NodeID:      nodeID,
		NodeName:    name,
		OSType:      "linux",
		Addr:        "192.168.1.20",
		ControlPort: 8443,
		Fingerprint: "fp-" + nodeID,
		Capabilities: models.Capabilities{
			CanHostPointer:   true,
			CanRenderStreams: true,
			VideoCodecs:      []string{"h264", "h265"},
		},
		LastSeen: time.Now(),
	}
}

func mustUpsertPeer(t *testing.T, store *Store, nodeID, name string) {
	t.Helper()

	if err := store.UpsertPeer(testPeer(nodeID, name)); err != nil {
		t.Fatalf("upsert peer %q: %v", nodeID, err)
	}
}
