package discovery

import (
	"errors"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"

	"github.com/wirdani84/project-mirage/models"
)

func TestStartAdvertiserRegistersExpectedRecord(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      map[string]string
	)

	cfg := Config{
		NodeID:      "node-123",
		NodeName:    "Office Desk",
		OSType:      "linux",
		ControlPort: 8443,
		Fingerprint: "abcd1234",
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = txtToMap(text)
			return nil, nil
		},
	}
	cfg.Capabilities = models.Capabilities{
		CanHostPointer: true,
		VideoCodecs:    []string{"h264", "h265"},
	}

	advertiser, err := StartAdvertiser(cfg)
	if err != nil {
		t.Fatalf("StartAdvertiser failed: %v", err)
	}
	defer advertiser.Stop()

	if gotInstance != "Office Desk" {
		t.Errorf("instance = %q", gotInstance)
	}
	if gotService != ServiceType || gotDomain != Domain {
		t.Errorf("service = %q %q", gotService, gotDomain)
	}
	if gotPort != 8443 {
		t.Errorf("port = %d", gotPort)
	}

	if gotTXT["node_id"] != "node-123" || gotTXT["os_type"] != "linux" {
		t.Errorf("txt = %v", gotTXT)
	}
	if gotTXT["can_host_pointer"] != "true" || gotTXT["can_capture_windows"] != "false" {
		t.Errorf("capability flags = %v", gotTXT)
	}
	if gotTXT["video_codecs"] != "h264,h265" {
		t.Errorf("video_codecs = %q", gotTXT["video_codecs"])
	}
	if gotTXT["fingerprint"] != "abcd1234" {
		t.Errorf("fingerprint = %q", gotTXT["fingerprint"])
	}
}

func TestStartAdvertiserValidation(t *testing.T) {
	base := Config{
		NodeID:      "node-123",
		NodeName:    "Office Desk",
		ControlPort: 8443,
		registerFn: func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
			return nil, nil
		},
	}

	missing := base
	missing.NodeID = " "
	if _, err := StartAdvertiser(missing); err == nil {
		t.Error("expected an error for a blank node ID")
	}

	unnamed := base
	unnamed.NodeName = ""
	if _, err := StartAdvertiser(unnamed); err == nil {
		t.Error("expected an error for a blank node name")
	}

	badPort := base
	badPort.ControlPort = 0
	if _, err := StartAdvertiser(badPort); err == nil {
		t.Error("expected an error for a zero control port")
	}
}

func TestStartAdvertiserPropagatesRegisterFailure(t *testing.T) {
	cfg := Config{
		NodeID:      "node-123",
		NodeName:    "Office Desk",
		ControlPort: 8443,
		registerFn: func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
			return nil, errors.New("socket in use")
		},
	}

	if _, err := StartAdvertiser(cfg); err == nil {
		t.Fatal("expected the register failure to propagate")
	}
}
