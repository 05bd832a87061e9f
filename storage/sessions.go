package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Close reasons recorded in session history.
const (
	SessionCloseReasonClosed      = "closed"
	SessionCloseReasonIdleTimeout = "idle_timeout"
)

// SessionRecord is one row of session history.
type SessionRecord struct {
	SessionID   string
	PeerNodeID  string
	PeerName    string
	CreatedAt   time.Time
	ClosedAt    time.Time // zero while the session is open
	CloseReason string    // empty while the session is open
}

// RecordSessionOpened inserts a history row for a newly created session.
func (s *Store) RecordSessionOpened(record SessionRecord) error {
	if record.SessionID == "" {
		return errors.New("session_id is required")
	}
	if record.PeerNodeID == "" {
		return errors.New("peer_node_id is required")
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO session_history (session_id, peer_node_id, peer_name, created_at)
		VALUES (?, ?, ?, ?)`,
		record.SessionID,
		record.PeerNodeID,
		record.PeerName,
		createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record session opened %q: %w", record.SessionID, err)
	}

	return nil
}

// RecordSessionClosed finalizes a history row with its close time and
// reason.
func (s *Store) RecordSessionClosed(sessionID string, closedAt time.Time, reason string) error {
	if sessionID == "" {
		return errors.New("session_id is required")
	}
	if reason != SessionCloseReasonClosed && reason != SessionCloseReasonIdleTimeout {
		return fmt.Errorf("invalid close reason %q", reason)
	}
	if closedAt.IsZero() {
		closedAt = time.Now()
	}

	_, err := s.db.Exec(
		`UPDATE session_history SET closed_at = ?, close_reason = ? WHERE session_id = ?`,
		closedAt.UnixMilli(),
		reason,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("record session closed %q: %w", sessionID, err)
	}

	return nil
}

// RecentSessions returns the most recent history rows, newest first.
func (s *Store) RecentSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT session_id, peer_node_id, peer_name, created_at, closed_at, close_reason
		FROM session_history
		ORDER BY created_at DESC, session_id
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			record    SessionRecord
			createdAt int64
			closedAt  sql.NullInt64
			reason    sql.NullString
		)
		if err := rows.Scan(&record.SessionID, &record.PeerNodeID, &record.PeerName, &createdAt, &closedAt, &reason); err != nil {
			return nil, fmt.Errorf("list recent sessions: %w", err)
		}
		record.CreatedAt = time.UnixMilli(createdAt)
		if closedAt.Valid {
			record.ClosedAt = time.UnixMilli(closedAt.Int64)
		}
		if reason.Valid {
			record.CloseReason = reason.String
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent sessions: %w", err)
	}

	return out, nil
}
