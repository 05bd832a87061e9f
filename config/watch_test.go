package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReportsConfigWrites(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := filepath.Join(dataDir, "config.toml")
	if err := os.WriteFile(cfgPath, []byte("[host]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := Watch(ctx, cfgPath)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(cfgPath, []byte("[host]\nname = \"edited\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification after a write")
	}
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := filepath.Join(dataDir, "config.toml")
	if err := os.WriteFile(cfgPath, []byte("[host]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := Watch(ctx, cfgPath)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	sibling := filepath.Join(dataDir, "mirage.db")
	if err := os.WriteFile(sibling, []byte("not config"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changes:
		t.Fatal("sibling file write produced a notification")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchStopsOnContextCancel(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := filepath.Join(dataDir, "config.toml")
	if err := os.WriteFile(cfgPath, []byte("[host]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := Watch(ctx, cfgPath)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	cancel()

	select {
	case _, ok := <-changes:
		if ok {
			t.Fatal("expected the stream to close, got a notification")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}
