package netmode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"iotbox/boxd/pkg/shell"
)

type fakeProbe struct {
	wired, ssid, ip string
	wiredErr        error
}

func (f fakeProbe) WiredState(context.Context) (string, error) { return f.wired, f.wiredErr }
func (f fakeProbe) AssociatedSSID(context.Context) (string, error) { return f.ssid, nil }
func (f fakeProbe) LocalIP(context.Context) (string, error) { return f.ip, nil }

func TestDetect(t *testing.T) {
	cases := []struct {
		name  string
		probe fakeProbe
		want  Mode
	}{
		{"wired wins over stale ssid", fakeProbe{wired: "up", ssid: "Home", ip: "192.168.1.5"}, Mode{Kind: Ethernet}},
		{"wired wins in ap", fakeProbe{wired: "up", ssid: "BoxAP", ip: "10.11.12.1"}, Mode{Kind: Ethernet}},
		{"access point", fakeProbe{wired: "down", ssid: "BoxAP", ip: "10.11.12.1"}, Mode{Kind: WifiAccessPoint}},
		{"wifi client", fakeProbe{wired: "down", ssid: "Home", ip: "192.168.1.7"}, Mode{Kind: WifiClient, SSID: "Home"}},
		{"disconnected", fakeProbe{wired: "down", ip: "10.11.12.1"}, Mode{Kind: Disconnected}},
		{"probe error", fakeProbe{wiredErr: errors.New("no link"), ssid: "Home", ip: "192.168.1.7"}, Mode{Kind: WifiClient, SSID: "Home"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDetector(tc.probe, "10.11.12.1", zerolog.Nop())
			if got := d.Detect(context.Background()); got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestModeLabels(t *testing.T) {
	labels := map[Mode]string{
		{Kind: Ethernet}:                 "Ethernet",
		{Kind: WifiClient, SSID: "Home"}: "Wifi : Home",
		{Kind: WifiAccessPoint}:          "Wifi access point",
		{Kind: Disconnected}:             "Not Connected",
	}
	for m, want := range labels {
		if m.String() != want {
			t.Fatalf("%v: got %q want %q", m.Kind, m.String(), want)
		}
	}
}

type scriptedRunner struct {
	res shell.Result
	err error
}

func (s scriptedRunner) Run(context.Context, string, ...string) (shell.Result, error) {
	return s.res, s.err
}

func TestSystemProbeSSID(t *testing.T) {
	p := SystemProbe{WifiInterface: "wlan0", Runner: scriptedRunner{res: shell.Result{Stdout: []byte("Home\n")}}}
	if ssid, err := p.AssociatedSSID(context.Background()); err != nil || ssid != "Home" {
		t.Fatalf("ssid: %q %v", ssid, err)
	}
	p.Runner = scriptedRunner{res: shell.Result{Code: 255}, err: errors.New("exit status 255")}
	if ssid, err := p.AssociatedSSID(context.Background()); err != nil || ssid != "" {
		t.Fatalf("not associated: %q %v", ssid, err)
	}
	p.Runner = scriptedRunner{res: shell.Result{Code: -1}, err: errors.New("exec: not found")}
	if _, err := p.AssociatedSSID(context.Background()); err == nil {
		t.Fatalf("missing binary should error")
	}
}

func TestSystemProbeSysfsFallback(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "nosuchif0"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "nosuchif0", "operstate"), []byte("up\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := SystemProbe{WiredInterface: "nosuchif0", SysClassNet: root}
	if st, err := p.WiredState(context.Background()); err != nil || st != "up" {
		t.Fatalf("state: %q %v", st, err)
	}
}
