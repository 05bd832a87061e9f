// Package session owns per-peer session lifecycle and mouse-ownership
// arbitration.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wirdani84/project-mirage/input"
	"github.com/wirdani84/project-mirage/models"
	"github.com/wirdani84/project-mirage/storage"
)

// MouseOwner is the side currently authoritative for pointer input.
type MouseOwner int

// Ownership sides.
const (
	OwnerLocal MouseOwner = iota
	OwnerRemote
)

func (o MouseOwner) String() string {
	if o == OwnerRemote {
		return "remote"
	}
	return "local"
}

// Session is one bounded-lifetime collaboration context with a peer. The
// session references the peer by ID; it does not own the registry entry.
type Session struct {
	SessionID    string
	PeerNodeID   string
	PeerName     string
	CreatedAt    time.Time
	LastActivity time.Time
	MouseOwner   MouseOwner
}

// NotificationType identifies coordinator notifications.
type NotificationType string

// Notifications published for the transport and stream engine to reconcile
// input routing.
const (
	NotifySessionCreated   NotificationType = "session_created"
	NotifyMouseTransferred NotificationType = "mouse_transferred"
	NotifySessionClosed    NotificationType = "session_closed"
	NotifySessionEvicted   NotificationType = "session_evicted"
)

// Notification carries one session lifecycle or ownership change.
type Notification struct {
	Type    NotificationType
	Session Session
}

// PeerLookup resolves a peer node ID against the discovery registry.
type PeerLookup interface {
	Peer(nodeID string) (models.PeerDevice, bool)
}

// ControlMessage is a session-control message for the network transport.
type ControlMessage struct {
	Kind  string     `json:"kind"`
	Owner MouseOwner `json:"owner"`
}

// Transport carries events and control messages to a peer. The wire format
// is the transport's concern; the coordinator only keys traffic by session
// and resolved peer address.
type Transport interface {
	ForwardInput(ctx context.Context, sessionID, addr string, ev input.Event) error
	SendControl(ctx context.Context, sessionID, addr string, msg ControlMessage) error
}

// Options configures the coordinator.
type Options struct {
	// IdleTimeout evicts sessions with no activity; default 60 minutes.
	IdleTimeout time.Duration
	// SweepInterval paces the eviction scan; default 1 second.
	SweepInterval time.Duration

	// EdgeBindings is the explicit spatial topology: which peer receives
	// ownership when the pointer crosses each edge. Unbound edges are
	// ignored rather than guessed.
	EdgeBindings map[input.Edge]string

	// EdgeDebounce suppresses repeated crossings of the same edge within
	// the window (input.edge_activation_delay_ms).
	EdgeDebounce time.Duration

	// Peers resolves edge-binding targets; required for edge handling.
	Peers PeerLookup

	// Store, when set, records session history rows. Storage failures
	// are logged, never propagated beyond the session.
	Store *storage.Store

	// Transport, when set, receives ownership-transfer control messages.
	Transport Transport
}

// Coordinator owns the session table. All operations take the table lock
// for a single read or single mutating step; nothing is held across channel
// sends or transport calls.
type Coordinator struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]Session

	edgeMu   sync.Mutex
	lastEdge map[input.Edge]time.Time

	notifyMu      sync.Mutex
	notifyClosed  bool
	notifications chan Notification

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewCoordinator creates a coordinator with option defaults applied.
func NewCoordinator(opts Options) *Coordinator {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}

	return &Coordinator{
		opts:          opts,
		sessions:      make(map[string]Session),
		lastEdge:      make(map[input.Edge]time.Time),
		notifications: make(chan Notification, 64),
	}
}

// Start launches the idle-session sweep.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.ctx, c.cancel = context.WithCancel(context.Background())
		c.wg.Add(1)
		go c.sweepLoop()
	})
}

// Stop halts the sweep and closes the notification stream. Session
// operations remain callable after Stop; their notifications are dropped.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()

		c.notifyMu.Lock()
		c.notifyClosed = true
		close(c.notifications)
		c.notifyMu.Unlock()
	})
}

// Notifications is the stream of session lifecycle and ownership changes.
func (c *Coordinator) Notifications() <-chan Notification {
	return c.notifications
}

// CreateSession allocates a session with local mouse ownership.
func (c *Coordinator) CreateSession(peerNodeID, peerName string) Session {
	now := time.Now()
	session := Session{
		SessionID:    uuid.NewString(),
		PeerNodeID:   peerNodeID,
		PeerName:     peerName,
		CreatedAt:    now,
		LastActivity: now,
		MouseOwner:   OwnerLocal,
	}

	c.mu.Lock()
	c.sessions[session.SessionID] = session
	c.mu.Unlock()

	log.Printf("session: created %s with peer %q (%s)", session.SessionID, peerName, peerNodeID)
	c.recordOpened(session)
	c.emit(Notification{Type: NotifySessionCreated, Session: session})
	return session
}

// GetSession returns a session snapshot by ID.
func (c *Coordinator) GetSession(sessionID string) (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	session, ok := c.sessions[sessionID]
	return session, ok
}

// Sessions returns a snapshot of all live sessions.
func (c *Coordinator) Sessions() []Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Session, 0, len(c.sessions))
	for _, session := range c.sessions {
		out = append(out, session)
	}
	return out
}

// UpdateActivity advances last_activity, resetting the eviction clock.
// Unknown sessions are a silent no-op.
func (c *Coordinator) UpdateActivity(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[sessionID]
	if !ok {
		return
	}
	session.LastActivity = time.Now()
	c.sessions[sessionID] = session
}

// TransferMouse atomically sets the session's mouse owner. Idempotent when
// the owner is unchanged; unknown sessions are a non-fatal no-op. Changes
// are announced so the transport and stream engine can reconcile routing.
func (c *Coordinator) TransferMouse(sessionID string, owner MouseOwner) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if session.MouseOwner == owner {
		c.mu.Unlock()
		return
	}
	session.MouseOwner = owner
	session.LastActivity = time.Now()
	c.sessions[sessionID] = session
	c.mu.Unlock()

	log.Printf("session: mouse ownership -> %s for %s", owner, sessionID)
	c.emit(Notification{Type: NotifyMouseTransferred, Session: session})
}

// CloseSession removes a session. Unknown IDs are a no-op.
func (c *Coordinator) CloseSession(sessionID string) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	log.Printf("session: closed %s with peer %q", session.SessionID, session.PeerName)
	c.recordClosed(session, storage.SessionCloseReasonClosed)
	c.emit(Notification{Type: NotifySessionClosed, Session: session})
}

// HandleEdgeCrossed is the ownership-arbitration entry point for edge
// crossings from the capture engine. The target peer comes from the
// explicit per-edge binding; crossings on unbound edges, or edges bound to
// a peer that is not currently in the registry, are ignored.
func (c *Coordinator) HandleEdgeCrossed(ev input.Event) {
	if ev.Type != input.EventEdgeCrossed {
		return
	}
	if c.debounced(ev.Edge) {
		return
	}

	nodeID, bound := c.opts.EdgeBindings[ev.Edge]
	if !bound {
		log.Printf("session: edge %s crossed but no peer bound, ignoring", ev.Edge)
		return
	}
	if c.opts.Peers == nil {
		return
	}
	peer, present := c.opts.Peers.Peer(nodeID)
	if !present {
		log.Printf("session: edge %s bound to %s but peer not discovered, ignoring", ev.Edge, nodeID)
		return
	}

	session, ok := c.sessionForPeer(nodeID)
	if !ok {
		session = c.CreateSession(peer.NodeID, peer.NodeName)
	}
	c.TransferMouse(session.SessionID, OwnerRemote)

	if c.opts.Transport != nil {
		ctx := c.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		addr := peer.Addr
		msg := ControlMessage{Kind: "transfer_mouse", Owner: OwnerRemote}
		if err := c.opts.Transport.SendControl(ctx, session.SessionID, addr, msg); err != nil {
			log.Printf("session: control send to %s failed: %v", addr, err)
		}
	}
}

// sessionForPeer finds an existing session referencing the peer. The table
// is keyed by session ID, so this is a scan; the first match wins.
func (c *Coordinator) sessionForPeer(peerNodeID string) (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, session := range c.sessions {
		if session.PeerNodeID == peerNodeID {
			return session, true
		}
	}
	return Session{}, false
}

// debounced reports whether this edge fired within the debounce window and
// records the crossing time.
func (c *Coordinator) debounced(edge input.Edge) bool {
	if c.opts.EdgeDebounce <= 0 {
		return false
	}
	now := time.Now()

	c.edgeMu.Lock()
	defer c.edgeMu.Unlock()
	if last, ok := c.lastEdge[edge]; ok && now.Sub(last) < c.opts.EdgeDebounce {
		return true
	}
	c.lastEdge[edge] = now
	return false
}

func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.ctx.Done():
			return
		}
	}
}

// sweep evicts sessions idle past the configured timeout. Eviction is
// local only; no message is sent to the peer.
func (c *Coordinator) sweep() {
	cutoff := time.Now().Add(-c.opts.IdleTimeout)

	c.mu.Lock()
	var evicted []Session
	for id, session := range c.sessions {
		if session.LastActivity.Before(cutoff) {
			evicted = append(evicted, session)
			delete(c.sessions, id)
		}
	}
	c.mu.Unlock()

	for _, session := range evicted {
		log.Printf("session: %s idle since %s, evicting",
			session.SessionID, session.LastActivity.Format(time.RFC3339))
		c.recordClosed(session, storage.SessionCloseReasonIdleTimeout)
		c.emit(Notification{Type: NotifySessionEvicted, Session: session})
	}
}

func (c *Coordinator) emit(notification Notification) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if c.notifyClosed {
		return
	}
	select {
	case c.notifications <- notification:
	default:
	}
}

func (c *Coordinator) recordOpened(session Session) {
	if c.opts.Store == nil {
		return
	}
	err := c.opts.Store.RecordSessionOpened(storage.SessionRecord{
		SessionID:  session.SessionID,
		PeerNodeID: session.PeerNodeID,
		PeerName:   session.PeerName,
		CreatedAt:  session.CreatedAt,
	})
	if err != nil {
		log.Printf("session: record open %s: %v", session.SessionID, err)
	}
}

func (c *Coordinator) recordClosed(session Session, reason string) {
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.RecordSessionClosed(session.SessionID, time.Now(), reason); err != nil {
		log.Printf("session: record close %s: %v", session.SessionID, err)
	}
}
