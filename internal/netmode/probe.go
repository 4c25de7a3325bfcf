package netmode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackpal/gateway"
	"github.com/vishvananda/netlink"

	"iotbox/boxd/pkg/shell"
)

// SystemProbe queries the live OS: netlink for the wired link, iwgetid for the
// Wi-Fi association and a routing lookup for the local address.
type SystemProbe struct {
	WiredInterface string
	WifiInterface  string
	Runner         shell.Runner
	// SysClassNet is the sysfs root used when netlink is unavailable.
	SysClassNet string
}

func (p SystemProbe) WiredState(ctx context.Context) (string, error) {
	link, err := netlink.LinkByName(p.WiredInterface)
	if err == nil {
		return link.Attrs().OperState.String(), nil
	}
	root := p.SysClassNet
	if root == "" {
		root = "/sys/class/net"
	}
	b, ferr := os.ReadFile(filepath.Join(root, p.WiredInterface, "operstate"))
	if ferr != nil {
		return "", fmt.Errorf("operstate %s: %w", p.WiredInterface, errors.Join(err, ferr))
	}
	return strings.TrimSpace(string(b)), nil
}

func (p SystemProbe) AssociatedSSID(ctx context.Context) (string, error) {
	res, err := p.Runner.Run(ctx, "iwgetid", "-r", p.WifiInterface)
	if err != nil && res.Code <= 0 {
		return "", err
	}
	// iwgetid exits non-zero when the interface is not associated
	if res.Code != 0 {
		return "", nil
	}
	return res.Output(), nil
}

// LocalIP returns the source address the kernel would use for an outbound
// route. No packet is sent.
func (p SystemProbe) LocalIP(ctx context.Context) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", "10.255.255.255:1")
	if err != nil {
		return p.firstIPv4()
	}
	defer conn.Close()
	if a, ok := conn.LocalAddr().(*net.UDPAddr); ok && a.IP != nil && !a.IP.IsUnspecified() {
		return a.IP.String(), nil
	}
	return p.firstIPv4()
}

func (p SystemProbe) firstIPv4() (string, error) {
	for _, name := range []string{p.WiredInterface, p.WifiInterface} {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
				return ipn.IP.String(), nil
			}
		}
	}
	return "127.0.0.1", nil
}

// Gateway returns the default gateway, "" when there is none.
func Gateway() string {
	ip, err := gateway.DiscoverGateway()
	if err != nil {
		return ""
	}
	return ip.String()
}
