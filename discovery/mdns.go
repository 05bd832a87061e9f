// Package discovery advertises this node on the local network and maintains
// an eventually-consistent registry of peers discovered via mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/wirdani84/project-mirage/models"
)

const (
	// ServiceType is the mDNS service type label; instances advertise as
	// "<node_name>._mirage._tcp.local.".
	ServiceType = "_mirage._tcp"
	// Domain is the mDNS domain.
	Domain = "local."
	// DefaultPeerTTL evicts peers not refreshed by any advertisement.
	DefaultPeerTTL = 120 * time.Second
	// DefaultSweepInterval paces the passive liveness sweep.
	DefaultSweepInterval = 15 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls advertisement and peer registry behavior.
type Config struct {
	// NodeID is this node's stable identity; advertisements carrying it
	// are never registered (no self-discovery). Required, supplied by
	// the caller so registry behavior is deterministic in tests.
	NodeID   string
	NodeName string
	OSType   string

	ControlPort  int
	Capabilities models.Capabilities
	Fingerprint  string

	// AllowedSubnets restricts which resolved addresses are accepted;
	// empty allows all.
	AllowedSubnets []*net.IPNet

	PeerTTL       time.Duration
	SweepInterval time.Duration

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.PeerTTL <= 0 {
		out.PeerTTL = DefaultPeerTTL
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = DefaultSweepInterval
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return errors.New("node ID is required")
	}
	if strings.TrimSpace(c.NodeName) == "" {
		return errors.New("node name is required")
	}
	if c.ControlPort <= 0 {
		return errors.New("control port must be > 0")
	}
	return nil
}

// txtRecords builds this node's advertisement record.
func txtRecords(cfg Config) []string {
	return []string{
		"node_id=" + cfg.NodeID,
		"os_type=" + cfg.OSType,
		"can_host_pointer=" + boolText(cfg.Capabilities.CanHostPointer),
		"can_capture_windows=" + boolText(cfg.Capabilities.CanCaptureWindows),
		"can_render_streams=" + boolText(cfg.Capabilities.CanRenderStreams),
		"video_codecs=" + cfg.Capabilities.CodecsJoined(),
		"fingerprint=" + cfg.Fingerprint,
	}
}

func boolText(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// Advertiser publishes this node's presence via mDNS.
type Advertiser struct {
	server *zeroconf.Server
}

// StartAdvertiser registers the advertisement record. Failure here is fatal
// at process startup.
func StartAdvertiser(config Config) (*Advertiser, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	server, err := cfg.registerFn(cfg.NodeName, ServiceType, Domain, cfg.ControlPort, txtRecords(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Advertiser{server: server}, nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// Service couples the advertiser with the peer registry: Start publishes
// this node and begins browsing, Stop withdraws and halts.
type Service struct {
	Advertiser *Advertiser
	Registry   *Registry
}

// Start brings up advertiser and registry from one config. Idempotent via
// the registry's Start.
func Start(config Config) (*Service, error) {
	cfg := config.withDefaults()

	advertiser, err := StartAdvertiser(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := NewRegistry(cfg)
	if err != nil {
		advertiser.Stop()
		return nil, err
	}
	registry.Start()

	return &Service{
		Advertiser: advertiser,
		Registry:   registry,
	}, nil
}

// Stop halts browsing and withdraws the advertisement.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	if s.Registry != nil {
		s.Registry.Stop()
	}
	if s.Advertiser != nil {
		s.Advertiser.Stop()
	}
}
