package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wirdani84/project-mirage/models"
)

// UpsertPeer records a discovered peer, refreshing its fields and last_seen
// on subsequent discoveries. first_seen is preserved across updates.
func (s *Store) UpsertPeer(peer models.PeerDevice) error {
	if peer.NodeID == "" {
		return errors.New("node_id is required")
	}
	if peer.NodeName == "" {
		return errors.New("node_name is required")
	}

	lastSeen := peer.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO peers (
			node_id, node_name, os_type, addr, control_port, fingerprint,
			can_host_pointer, can_capture_windows, can_render_streams,
			video_codecs, online, first_seen, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			node_name           = excluded.node_name,
			os_type             = excluded.os_type,
			addr                = excluded.addr,
			control_port        = excluded.control_port,
			fingerprint         = excluded.fingerprint,
			can_host_pointer    = excluded.can_host_pointer,
			can_capture_windows = excluded.can_capture_windows,
			can_render_streams  = excluded.can_render_streams,
			video_codecs        = excluded.video_codecs,
			online              = 1,
			last_seen           = MAX(peers.last_seen, excluded.last_seen)`,
		peer.NodeID,
		peer.NodeName,
		peer.OSType,
		peer.Addr,
		peer.ControlPort,
		peer.Fingerprint,
		boolInt(peer.Capabilities.CanHostPointer),
		boolInt(peer.Capabilities.CanCaptureWindows),
		boolInt(peer.Capabilities.CanRenderStreams),
		peer.Capabilities.CodecsJoined(),
		lastSeen.UnixMilli(),
		lastSeen.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert peer %q: %w", peer.NodeID, err)
	}

	return nil
}

// MarkPeerLost flags a peer as offline without forgetting it.
func (s *Store) MarkPeerLost(nodeID string) error {
	if nodeID == "" {
		return errors.New("node_id is required")
	}

	if _, err := s.db.Exec(`UPDATE peers SET online = 0 WHERE node_id = ?`, nodeID); err != nil {
		return fmt.Errorf("mark peer lost %q: %w", nodeID, err)
	}
	return nil
}

// GetPeer fetches one remembered peer by node ID.
func (s *Store) GetPeer(nodeID string) (*models.PeerDevice, error) {
	row := s.db.QueryRow(
		`SELECT node_id, node_name, os_type, addr, control_port, fingerprint,
			can_host_pointer, can_capture_windows, can_render_streams,
			video_codecs, last_seen
		FROM peers WHERE node_id = ?`,
		nodeID,
	)

	peer, err := scanPeer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get peer %q: %w", nodeID, err)
	}
	return peer, nil
}

// ListPeers returns all remembered peers, most recently seen first.
func (s *Store) ListPeers() ([]models.PeerDevice, error) {
	rows, err := s.db.Query(
		`SELECT node_id, node_name, os_type, addr, control_port, fingerprint,
			can_host_pointer, can_capture_windows, can_render_streams,
			video_codecs, last_seen
		FROM peers ORDER BY last_seen DESC, node_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	var out []models.PeerDevice
	for rows.Next() {
		peer, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("list peers: %w", err)
		}
		out = append(out, *peer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeer(row rowScanner) (*models.PeerDevice, error) {
	var (
		peer     models.PeerDevice
		hostPtr  int
		capWin   int
		render   int
		codecs   string
		lastSeen int64
	)

	err := row.Scan(
		&peer.NodeID,
		&peer.NodeName,
		&peer.OSType,
		&peer.Addr,
		&peer.ControlPort,
		&peer.Fingerprint,
		&hostPtr,
		&capWin,
		&render,
		&codecs,
		&lastSeen,
	)
	if err != nil {
		return nil, err
	}

	peer.Capabilities = models.Capabilities{
		CanHostPointer:    hostPtr != 0,
		CanCaptureWindows: capWin != 0,
		CanRenderStreams:  render != 0,
	}
	if trimmed := strings.TrimSpace(codecs); trimmed != "" {
		peer.Capabilities.VideoCodecs = models.ParseCodecs(trimmed)
	}
	peer.LastSeen = time.UnixMilli(lastSeen)

	return &peer, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
