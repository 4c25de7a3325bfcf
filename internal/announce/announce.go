// Package announce advertises the configuration surface over mDNS so that
// operators can find a box on the LAN without knowing its address.
package announce

import (
	"context"
	"net"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

const (
	Service = "_iotbox._tcp"
	Domain  = "local."
)

// TXT builds the records published next to the service.
func TXT(mac, version, server string) []string {
	txt := []string{"mac=" + mac, "version=" + version}
	if server != "" {
		txt = append(txt, "server="+server)
	}
	return txt
}

// Publish registers instance on port and keeps it announced until ctx is
// done. ifaces restricts the announcement; nil means every interface.
func Publish(ctx context.Context, instance string, port int, txt []string, ifaces []net.Interface, log zerolog.Logger) error {
	srv, err := zeroconf.Register(instance, Service, Domain, port, txt, ifaces)
	if err != nil {
		return err
	}
	log.Info().Str("instance", instance).Int("port", port).Msg("mdns service published")
	go func() {
		<-ctx.Done()
		srv.Shutdown()
		log.Debug().Str("instance", instance).Msg("mdns service withdrawn")
	}()
	return nil
}

// Interfaces resolves interface names, skipping unknown ones.
func Interfaces(names ...string) []net.Interface {
	var out []net.Interface
	for _, n := range names {
		if iface, err := net.InterfaceByName(n); err == nil {
			out = append(out, *iface)
		}
	}
	return out
}
