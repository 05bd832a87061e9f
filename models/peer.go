// Package models holds the data types shared between discovery, session
// management and storage.
package models

import (
	"strings"
	"time"
)

// Capabilities describes what a peer node can do in an input-sharing session.
type Capabilities struct {
	CanHostPointer    bool     `json:"can_host_pointer"`
	CanCaptureWindows bool     `json:"can_capture_windows"`
	CanRenderStreams  bool     `json:"can_render_streams"`
	VideoCodecs       []string `json:"video_codecs"`
}

// CodecsJoined returns the codec list as a comma-separated string for the
// advertisement record.
func (c Capabilities) CodecsJoined() string {
	return strings.Join(c.VideoCodecs, ",")
}

// ParseCodecs splits a comma-separated codec list, dropping empty entries.
// Order is preserved: the advertisement lists codecs by preference.
func ParseCodecs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		codec := strings.TrimSpace(part)
		if codec == "" {
			continue
		}
		out = append(out, codec)
	}
	return out
}

// PeerDevice is one entry in the discovered-peer registry.
//
// NodeID is immutable and unique within the registry; the local node's own
// ID never appears. LastSeen is non-decreasing while the entry exists.
type PeerDevice struct {
	NodeID       string       `json:"node_id"`
	NodeName     string       `json:"node_name"`
	OSType       string       `json:"os_type"`
	Addr         string       `json:"addr"`
	ControlPort  int          `json:"control_port"`
	Fingerprint  string       `json:"fingerprint"`
	Capabilities Capabilities `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
}
