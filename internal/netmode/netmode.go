package netmode

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
)

// Kind is the connectivity mode of the box.
type Kind int

const (
	Disconnected Kind = iota
	Ethernet
	WifiClient
	WifiAccessPoint
)

func (k Kind) String() string {
	switch k {
	case Ethernet:
		return "ethernet"
	case WifiClient:
		return "wifi_client"
	case WifiAccessPoint:
		return "wifi_access_point"
	default:
		return "disconnected"
	}
}

// Mode is derived live on every request and never persisted.
type Mode struct {
	Kind Kind
	// SSID is set for WifiClient only.
	SSID string
}

// String is the operator-facing label shown on the status page.
func (m Mode) String() string {
	switch m.Kind {
	case Ethernet:
		return "Ethernet"
	case WifiClient:
		return "Wifi : " + m.SSID
	case WifiAccessPoint:
		return "Wifi access point"
	default:
		return "Not Connected"
	}
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  string `json:"kind"`
		SSID  string `json:"ssid,omitempty"`
		Label string `json:"label"`
	}{m.Kind.String(), m.SSID, m.String()})
}

// Probe answers the raw OS-level questions the detector needs.
type Probe interface {
	// WiredState returns the operational state of the wired interface ("up", "down", ...).
	WiredState(ctx context.Context) (string, error)
	// AssociatedSSID returns the Wi-Fi network name, "" when not associated.
	AssociatedSSID(ctx context.Context) (string, error)
	// LocalIP returns the box's primary IPv4 address.
	LocalIP(ctx context.Context) (string, error)
}

// Classify applies the detection policy. Wired presence always wins, even when
// the OS still reports a stale association.
func Classify(wiredState, ssid, ip, accessPointIP string) Mode {
	if strings.TrimSpace(wiredState) == "up" {
		return Mode{Kind: Ethernet}
	}
	ssid = strings.TrimSpace(ssid)
	if ssid != "" {
		if ip == accessPointIP {
			return Mode{Kind: WifiAccessPoint}
		}
		return Mode{Kind: WifiClient, SSID: ssid}
	}
	return Mode{Kind: Disconnected}
}

type Detector struct {
	probe         Probe
	accessPointIP string
	log           zerolog.Logger
}

func NewDetector(p Probe, accessPointIP string, log zerolog.Logger) *Detector {
	return &Detector{probe: p, accessPointIP: accessPointIP, log: log}
}

// Detect never fails: probe errors degrade to the less-connected answer and are logged.
func (d *Detector) Detect(ctx context.Context) Mode {
	wired, err := d.probe.WiredState(ctx)
	if err != nil {
		d.log.Debug().Err(err).Msg("wired state unavailable")
	}
	if strings.TrimSpace(wired) == "up" {
		return Mode{Kind: Ethernet}
	}
	ssid, err := d.probe.AssociatedSSID(ctx)
	if err != nil {
		d.log.Debug().Err(err).Msg("wifi association unavailable")
	}
	return Classify(wired, ssid, d.IP(ctx), d.accessPointIP)
}

// IP returns the box address, "" when unknown.
func (d *Detector) IP(ctx context.Context) string {
	ip, err := d.probe.LocalIP(ctx)
	if err != nil {
		d.log.Debug().Err(err).Msg("local ip unavailable")
		return ""
	}
	return ip
}
