package storage

import (
	"testing"
	"time"
)

func TestUpsertPeerInsertAndGet(t *testing.T) {
	store := newTestStore(t)

	mustUpsertPeer(t, store, "node-1", "Alice")

	got, err := store.GetPeer("node-1")
	if err != nil {
		t.Fatalf("GetPeer failed: %v", err)
	}
	if got == nil {
		t.Fatal("peer not found after upsert")
	}
	if got.NodeName != "Alice" || got.OSType != "linux" || got.ControlPort != 8443 {
		t.Errorf("peer = %+v", got)
	}
	if !got.Capabilities.CanHostPointer || got.Capabilities.CanCaptureWindows {
		t.Errorf("capabilities = %+v", got.Capabilities)
	}
	if len(got.Capabilities.VideoCodecs) != 2 || got.Capabilities.VideoCodecs[0] != "h264" {
		t.Errorf("codecs = %v", got.Capabilities.VideoCodecs)
	}
}

func TestUpsertPeerRefreshesExistingRow(t *testing.T) {
	store := newTestStore(t)

	first := testPeer("node-1", "Alice")
	first.LastSeen = time.Now().Add(-time.Hour)
	if err := store.UpsertPeer(first); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	refreshed := testPeer("node-1", "Alice Renamed")
	refreshed.ControlPort = 9001
	if err := store.UpsertPeer(refreshed); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := store.GetPeer("node-1")
	if err != nil {
		t.Fatalf("GetPeer failed: %v", err)
	}
	if got.NodeName != "Alice Renamed" || got.ControlPort != 9001 {
		t.Errorf("refreshed peer = %+v", got)
	}
	if !got.LastSeen.After(first.LastSeen) {
		t.Error("last_seen was not advanced by the refresh")
	}

	peers, err := store.ListPeers()
	if err != nil {
		t.Fatalf("ListPeers failed: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("have %d rows, want the single upserted peer", len(peers))
	}
}

func TestUpsertPeerLastSeenNeverGoesBackwards(t *testing.T) {
	store := newTestStore(t)

	recent := testPeer("node-1", "Alice")
	recent.LastSeen = time.Now()
	if err := store.UpsertPeer(recent); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	stale := testPeer("node-1", "Alice")
	stale.LastSeen = time.Now().Add(-time.Hour)
	if err := store.UpsertPeer(stale); err != nil {
		t.Fatalf("stale upsert failed: %v", err)
	}

	got, err := store.GetPeer("node-1")
	if err != nil {
		t.Fatalf("GetPeer failed: %v", err)
	}
	if got.LastSeen.Before(recent.LastSeen.Truncate(time.Millisecond)) {
		t.Errorf("last_seen regressed to %s", got.LastSeen)
	}
}

func TestUpsertPeerValidation(t *testing.T) {
	store := newTestStore(t)

	missing := testPeer("", "Alice")
	if err := store.UpsertPeer(missing); err == nil {
		t.Error("expected an error for a missing node_id")
	}

	unnamed := testPeer("node-1", "")
	if err := store.UpsertPeer(unnamed); err == nil {
		t.Error("expected an error for a missing node_name")
	}
}

func TestMarkPeerLost(t *testing.T) {
	store := newTestStore(t)
	mustUpsertPeer(t, store, "node-1", "Alice")

	if err := store.MarkPeerLost("node-1"); err != nil {
		t.Fatalf("MarkPeerLost failed: %v", err)
	}

	// The peer is remembered, just offline.
	got, err := store.GetPeer("node-1")
	if err != nil {
		t.Fatalf("GetPeer failed: %v", err)
	}
	if got == nil {
		t.Fatal("lost peer was forgotten entirely")
	}

	// Rediscovery flips it back online without erroring.
	mustUpsertPeer(t, store, "node-1", "Alice")
}

func TestGetPeerUnknownReturnsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetPeer("nope")
	if err != nil {
		t.Fatalf("GetPeer failed: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil for an unknown peer", got)
	}
}

func TestListPeersOrderedByLastSeen(t *testing.T) {
	store := newTestStore(t)

	older := testPeer("node-old", "Old")
	older.LastSeen = time.Now().Add(-time.Hour)
	if err := store.UpsertPeer(older); err != nil {
		t.Fatal(err)
	}
	newer := testPeer("node-new", "New")
	newer.LastSeen = time.Now()
	if err := store.UpsertPeer(newer); err != nil {
		t.Fatal(err)
	}

	peers, err := store.ListPeers()
	if err != nil {
		t.Fatalf("ListPeers failed: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("have %d peers, want 2", len(peers))
	}
	if peers[0].NodeID != "node-new" || peers[1].NodeID != "node-old" {
		t.Errorf("order = %s, %s; want most recently seen first", peers[0].NodeID, peers[1].NodeID)
	}
}
