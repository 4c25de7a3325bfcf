package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is built once at startup and handed to every component.
type Config struct {
	Bind       string
	PublicPort int

	LogLevel      zerolog.Level
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	HomeDir     string
	DriversDir  string
	ScriptsDir  string
	ScanFile    string
	VersionFile string

	WiredInterface string
	WifiInterface  string
	AccessPointIP  string

	ServiceName  string
	RemountPaths []string

	CommandTimeout time.Duration
	FetchTimeout   time.Duration

	DriversCacheName   string
	DriversInsecureTLS bool

	DeviceSource string
	DeviceURL    string

	TunnelBinary string
	TunnelPort   int
	TunnelLog    string

	MetricsEnabled bool
	MDNSEnabled    bool
	ScanSchedule   string
}

type fileConfig struct {
	HTTP struct {
		Bind       string `yaml:"bind"`
		PublicPort int    `yaml:"publicPort"`
	} `yaml:"http"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"maxSizeMB"`
		MaxBackups int    `yaml:"maxBackups"`
	} `yaml:"log"`
	Paths struct {
		Home        string `yaml:"home"`
		Drivers     string `yaml:"drivers"`
		Scripts     string `yaml:"scripts"`
		ScanFile    string `yaml:"scanFile"`
		VersionFile string `yaml:"versionFile"`
	} `yaml:"paths"`
	Network struct {
		WiredInterface string `yaml:"wiredInterface"`
		WifiInterface  string `yaml:"wifiInterface"`
		AccessPointIP  string `yaml:"accessPointIP"`
	} `yaml:"network"`
	Service struct {
		Name         string   `yaml:"name"`
		RemountPaths []string `yaml:"remountPaths"`
	} `yaml:"service"`
	Timeouts struct {
		Command string `yaml:"command"`
		Fetch   string `yaml:"fetch"`
	} `yaml:"timeouts"`
	Drivers struct {
		CacheName   string `yaml:"cacheName"`
		InsecureTLS *bool  `yaml:"insecureTLS"`
	} `yaml:"drivers"`
	Devices struct {
		Source string `yaml:"source"`
		URL    string `yaml:"url"`
	} `yaml:"devices"`
	Tunnel struct {
		Binary string `yaml:"binary"`
		Port   int    `yaml:"port"`
		Log    string `yaml:"log"`
	} `yaml:"tunnel"`
	Metrics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"metrics"`
	MDNS struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"mdns"`
	Scan struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"scan"`
}

func Defaults() Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "/home/pi"
	}
	return Config{
		Bind:               "0.0.0.0:8069",
		PublicPort:         8069,
		LogLevel:           zerolog.InfoLevel,
		LogMaxSizeMB:       10,
		LogMaxBackups:      3,
		HomeDir:            home,
		DriversDir:         "/home/pi/odoo/addons/hw_drivers/drivers",
		ScriptsDir:         "/home/pi/odoo/addons/point_of_sale/tools/posbox/configuration",
		ScanFile:           "/tmp/scanned_networks.txt",
		VersionFile:        "/var/odoo/iotbox_version",
		WiredInterface:     "eth0",
		WifiInterface:      "wlan0",
		AccessPointIP:      "10.11.12.1",
		ServiceName:        "odoo",
		RemountPaths:       []string{"/", "/root_bypass_ramdisks"},
		CommandTimeout:     60 * time.Second,
		FetchTimeout:       10 * time.Second,
		DriversCacheName:   "__pycache__",
		DriversInsecureTLS: true,
		DeviceSource:       "live",
		DeviceURL:          "http://127.0.0.1:8070",
		TunnelBinary:       "ngrok",
		TunnelPort:         22,
		TunnelLog:          "/tmp/ngrok.log",
		MetricsEnabled:     true,
	}
}

// DefaultPath is read when BOX_CONFIG is unset. Its absence is not an error.
const DefaultPath = "/etc/boxd/boxd.yaml"

// FromEnv loads the file named by BOX_CONFIG, or DefaultPath when it exists,
// and applies env overrides.
func FromEnv() (Config, error) {
	path := os.Getenv("BOX_CONFIG")
	if path == "" {
		if _, err := os.Stat(DefaultPath); err != nil {
			cfg := Defaults()
			cfg.applyEnv()
			return cfg, nil
		}
		path = DefaultPath
	}
	return Load(path)
}

// Load reads YAML from path, then applies BOX_* env overrides. An empty path
// yields the defaults; a named file that is missing or malformed is an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.applyFile(fc)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(fc fileConfig) {
	setStr(&c.Bind, fc.HTTP.Bind)
	setInt(&c.PublicPort, fc.HTTP.PublicPort)
	if l, err := zerolog.ParseLevel(fc.Log.Level); err == nil && fc.Log.Level != "" {
		c.LogLevel = l
	}
	setStr(&c.LogFile, fc.Log.File)
	setInt(&c.LogMaxSizeMB, fc.Log.MaxSizeMB)
	setInt(&c.LogMaxBackups, fc.Log.MaxBackups)
	setStr(&c.HomeDir, fc.Paths.Home)
	setStr(&c.DriversDir, fc.Paths.Drivers)
	setStr(&c.ScriptsDir, fc.Paths.Scripts)
	setStr(&c.ScanFile, fc.Paths.ScanFile)
	setStr(&c.VersionFile, fc.Paths.VersionFile)
	setStr(&c.WiredInterface, fc.Network.WiredInterface)
	setStr(&c.WifiInterface, fc.Network.WifiInterface)
	setStr(&c.AccessPointIP, fc.Network.AccessPointIP)
	setStr(&c.ServiceName, fc.Service.Name)
	if len(fc.Service.RemountPaths) > 0 {
		c.RemountPaths = fc.Service.RemountPaths
	}
	setDur(&c.CommandTimeout, fc.Timeouts.Command)
	setDur(&c.FetchTimeout, fc.Timeouts.Fetch)
	setStr(&c.DriversCacheName, fc.Drivers.CacheName)
	if fc.Drivers.InsecureTLS != nil {
		c.DriversInsecureTLS = *fc.Drivers.InsecureTLS
	}
	setStr(&c.DeviceSource, fc.Devices.Source)
	setStr(&c.DeviceURL, fc.Devices.URL)
	setStr(&c.TunnelBinary, fc.Tunnel.Binary)
	setInt(&c.TunnelPort, fc.Tunnel.Port)
	setStr(&c.TunnelLog, fc.Tunnel.Log)
	if fc.Metrics.Enabled != nil {
		c.MetricsEnabled = *fc.Metrics.Enabled
	}
	c.MDNSEnabled = c.MDNSEnabled || fc.MDNS.Enabled
	setStr(&c.ScanSchedule, fc.Scan.Schedule)
}

func (c *Config) applyEnv() {
	setStr(&c.Bind, os.Getenv("BOX_HTTP_BIND"))
	if v := os.Getenv("BOX_PUBLIC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.PublicPort = p
		}
	}
	if v := os.Getenv("BOX_LOG"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			c.LogLevel = l
		}
	}
	setStr(&c.LogFile, os.Getenv("BOX_LOG_FILE"))
	setStr(&c.HomeDir, os.Getenv("BOX_HOME"))
	setStr(&c.DriversDir, os.Getenv("BOX_DRIVERS_DIR"))
	setStr(&c.ScriptsDir, os.Getenv("BOX_SCRIPTS_DIR"))
	setStr(&c.ScanFile, os.Getenv("BOX_SCAN_FILE"))
	setStr(&c.WiredInterface, os.Getenv("BOX_WIRED_IFACE"))
	setStr(&c.WifiInterface, os.Getenv("BOX_WIFI_IFACE"))
	setStr(&c.AccessPointIP, os.Getenv("BOX_AP_IP"))
	setStr(&c.ServiceName, os.Getenv("BOX_SERVICE"))
	setDur(&c.CommandTimeout, os.Getenv("BOX_COMMAND_TIMEOUT"))
	setDur(&c.FetchTimeout, os.Getenv("BOX_FETCH_TIMEOUT"))
	setStr(&c.DeviceSource, os.Getenv("BOX_DEVICE_SOURCE"))
	setStr(&c.DeviceURL, os.Getenv("BOX_DEVICE_URL"))
	if v := os.Getenv("BOX_METRICS"); v != "" {
		c.MetricsEnabled = truthy(v)
	}
	if v := os.Getenv("BOX_MDNS"); v != "" {
		c.MDNSEnabled = truthy(v)
	}
	setStr(&c.ScanSchedule, os.Getenv("BOX_SCAN_SCHEDULE"))
}

func setStr(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDur(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
