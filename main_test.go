package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"iotbox/boxd/internal/config"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != Version {
		t.Fatalf("got %q", out.String())
	}
}

func TestBuildWiresComponents(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BOX_HOME", dir)
	t.Setenv("BOX_DRIVERS_DIR", dir)
	t.Setenv("BOX_METRICS", "0")
	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatal(err)
	}

	a, err := build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if a.machine == nil || a.drivers == nil || a.tunnel == nil || a.detector == nil {
		t.Fatalf("incomplete app: %+v", a)
	}
	if a.metrics != nil {
		t.Fatalf("metrics should be disabled")
	}
	if a.store.Dir() != dir {
		t.Fatalf("store dir: %s", a.store.Dir())
	}
}

func TestBuildRejectsUnknownDeviceSource(t *testing.T) {
	t.Setenv("BOX_HOME", t.TempDir())
	t.Setenv("BOX_DEVICE_SOURCE", "magic")
	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := build(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for unknown device source")
	}
}

func TestBuildRejectsSelfDeviceURL(t *testing.T) {
	t.Setenv("BOX_HOME", t.TempDir())
	t.Setenv("BOX_DEVICE_URL", "http://127.0.0.1:8069")
	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := build(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("devices.url on boxd's own port should be rejected")
	}
}

func TestCheckDeviceURL(t *testing.T) {
	cases := []struct {
		bind, url string
		self      bool
	}{
		{"0.0.0.0:8069", "http://127.0.0.1:8069", true},
		{"0.0.0.0:8069", "http://localhost:8069/", true},
		{":8069", "http://127.0.0.1:8069", true},
		{"127.0.0.1:8069", "http://localhost:8069", true},
		{"10.0.0.5:8069", "http://10.0.0.5:8069", true},
		{"0.0.0.0:80", "http://127.0.0.1", true},
		{"0.0.0.0:8069", "http://127.0.0.1:8070", false},
		{"10.0.0.5:8069", "http://127.0.0.1:8069", false},
		{"0.0.0.0:8069", "http://192.168.1.9:8069", false},
	}
	for _, tc := range cases {
		err := checkDeviceURL(tc.bind, tc.url)
		if (err != nil) != tc.self {
			t.Fatalf("bind=%s url=%s: err=%v", tc.bind, tc.url, err)
		}
	}
	if err := checkDeviceURL("0.0.0.0:8069", "not a url"); err == nil {
		t.Fatalf("relative url should be rejected")
	}
}

func TestDefaultDeviceURLIsNotSelf(t *testing.T) {
	cfg := config.Defaults()
	if err := checkDeviceURL(cfg.Bind, cfg.DeviceURL); err != nil {
		t.Fatal(err)
	}
}

func TestExplicitConfigMustLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "boxd.yaml")
	if err := os.WriteFile(p, []byte("http: [broken\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgFile = p
	defer func() { cfgFile = "" }()
	if _, err := loadConfig(); err == nil {
		t.Fatalf("malformed --config should fail")
	}
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := loadConfig(); err == nil {
		t.Fatalf("missing --config should fail")
	}
}
