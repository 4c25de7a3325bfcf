package system

import (
	"context"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Identity is the immutable identity of the box for the process lifetime.
type Identity struct {
	Hostname string `json:"hostname"`
	MAC      string `json:"mac"`
	Version  string `json:"version"`
}

// CompactMAC is the MAC address without separators, upper-cased.
func (id Identity) CompactMAC() string {
	return strings.ToUpper(strings.ReplaceAll(id.MAC, ":", ""))
}

// DefaultIoTName is the name a box registers under when none is given.
func (id Identity) DefaultIoTName() string {
	return "IoTBox-" + id.CompactMAC()
}

// ResolveIdentity reads hostname and the MAC address of iface (falling back
// to the first interface with a hardware address) and the image version.
func ResolveIdentity(ctx context.Context, iface, versionFile string) Identity {
	var id Identity
	if info, err := host.InfoWithContext(ctx); err == nil {
		id.Hostname = info.Hostname
	}
	if id.Hostname == "" {
		id.Hostname, _ = os.Hostname()
	}
	if ifs, err := psnet.InterfacesWithContext(ctx); err == nil {
		id.MAC = pickMAC(ifs, iface)
	}
	if b, err := os.ReadFile(versionFile); err == nil {
		id.Version = strings.TrimSpace(string(b))
	}
	return id
}

func pickMAC(ifs psnet.InterfaceStatList, iface string) string {
	fallback := ""
	for _, it := range ifs {
		if it.HardwareAddr == "" || it.HardwareAddr == "00:00:00:00:00:00" {
			continue
		}
		if it.Name == iface {
			return strings.ToLower(it.HardwareAddr)
		}
		if fallback == "" {
			fallback = strings.ToLower(it.HardwareAddr)
		}
	}
	return fallback
}
