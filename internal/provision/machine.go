// Package provision decides which configuration surface the box presents and
// applies binding changes. External primitives always run before the marker
// files that record their effect are touched.
package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"iotbox/boxd/internal/devices"
	"iotbox/boxd/internal/markers"
	"iotbox/boxd/internal/metrics"
	"iotbox/boxd/internal/netmode"
	"iotbox/boxd/internal/system"
)

const NotConfigured = "Not Configured"

// Provisioner applies bindings at the OS level.
type Provisioner interface {
	JoinWifi(ctx context.Context, w system.WifiJoin) error
	BindServer(ctx context.Context, b system.ServerBind) error
	BindServerAndWifi(ctx context.Context, b system.ServerBind, w system.WifiJoin) error
}

type Restarter interface {
	Restart(ctx context.Context) error
}

type ModeDetector interface {
	Detect(ctx context.Context) netmode.Mode
	IP(ctx context.Context) string
}

type DeviceLister interface {
	Aggregate(ctx context.Context) ([]devices.Status, error)
}

// Deps are the collaborators of a Machine, built once in main.
type Deps struct {
	Store       *markers.Store
	Detector    ModeDetector
	Provisioner Provisioner
	Service     Restarter
	Devices     DeviceLister
	Identity    system.Identity
	// ScanNetworks returns the last Wi-Fi scan, already escaped.
	ScanNetworks func() []string
	Gateway      func() string
	PublicPort   int
	Log          zerolog.Logger
	Metrics      *metrics.Metrics
}

type Machine struct {
	d Deps
}

func New(d Deps) *Machine {
	if d.ScanNetworks == nil {
		d.ScanNetworks = func() []string { return []string{} }
	}
	if d.Gateway == nil {
		d.Gateway = func() string { return "" }
	}
	if d.PublicPort == 0 {
		d.PublicPort = 8069
	}
	return &Machine{d: d}
}

// Redirect asks the client to load URL after Delay seconds.
type Redirect struct {
	Delay int
	URL   string
}

type Wizard struct {
	Title    string   `json:"title"`
	SSIDs    []string `json:"ssid"`
	Server   string   `json:"server"`
	Hostname string   `json:"hostname"`
}

type Status struct {
	Hostname    string           `json:"hostname"`
	IP          string           `json:"ip"`
	MAC         string           `json:"mac"`
	Gateway     string           `json:"gateway,omitempty"`
	Devices     []devices.Status `json:"iot_device_status"`
	Server      string           `json:"server_status"`
	SixTerminal string           `json:"six_terminal"`
	Network     string           `json:"network_status"`
	Mode        netmode.Mode     `json:"mode"`
	Version     string           `json:"version"`
}

// Home is what "/" shows: exactly one of Wizard or Status is set.
type Home struct {
	State  State
	Wizard *Wizard
	Status *Status
}

// BoxURL is the address of this configuration surface as seen on the LAN.
func (m *Machine) BoxURL(ctx context.Context, path string) string {
	return fmt.Sprintf("http://%s:%d%s", m.d.Detector.IP(ctx), m.d.PublicPort, path)
}

// State is re-derived from the markers and the live network mode on every call.
func (m *Machine) State(ctx context.Context) (State, netmode.Mode) {
	mode := m.d.Detector.Detect(ctx)
	return Evaluate(mode, m.d.Store.Exists(markers.WifiNetwork), m.d.Store.Exists(markers.RemoteServer)), mode
}

func (m *Machine) Home(ctx context.Context) (Home, error) {
	st, mode := m.State(ctx)
	if st == NeedsSetup {
		w, err := m.Wizard(ctx)
		if err != nil {
			return Home{}, err
		}
		return Home{State: st, Wizard: &w}, nil
	}
	s, err := m.statusFor(ctx, mode)
	if err != nil {
		return Home{}, err
	}
	return Home{State: st, Status: &s}, nil
}

// Wizard seeds the guided setup with scanned networks and the current binding.
func (m *Machine) Wizard(ctx context.Context) (Wizard, error) {
	sb, err := m.d.Store.Server()
	if err != nil {
		return Wizard{}, err
	}
	w := Wizard{
		Title:    "Configure IoT Box",
		SSIDs:    m.d.ScanNetworks(),
		Hostname: m.d.Identity.Hostname,
	}
	if sb != nil {
		w.Server = sb.URL
	}
	return w, nil
}

// WifiNetworks is the deduplicated scan result.
func (m *Machine) WifiNetworks() []string { return m.d.ScanNetworks() }

func (m *Machine) Identity() system.Identity { return m.d.Identity }

func (m *Machine) Status(ctx context.Context) (Status, error) {
	return m.statusFor(ctx, m.d.Detector.Detect(ctx))
}

// Snapshot returns the provisioning state and the status page data derived
// from one network detection, so the two always agree.
func (m *Machine) Snapshot(ctx context.Context) (State, Status, error) {
	st, mode := m.State(ctx)
	s, err := m.statusFor(ctx, mode)
	if err != nil {
		return st, Status{}, err
	}
	return st, s, nil
}

func (m *Machine) statusFor(ctx context.Context, mode netmode.Mode) (Status, error) {
	s := Status{
		Hostname: m.d.Identity.Hostname,
		IP:       m.d.Detector.IP(ctx),
		MAC:      m.d.Identity.MAC,
		Gateway:  m.d.Gateway(),
		Network:  mode.String(),
		Mode:     mode,
		Version:  m.d.Identity.Version,
		Server:   NotConfigured,
		Devices:  []devices.Status{},
	}
	if m.d.Devices != nil {
		list, err := m.d.Devices.Aggregate(ctx)
		if err != nil {
			m.d.Log.Warn().Err(err).Msg("device status unavailable")
		} else if list != nil {
			s.Devices = list
		}
	}
	sb, err := m.d.Store.Server()
	if err != nil {
		return Status{}, err
	}
	if sb != nil {
		s.Server = sb.URL
	}
	if s.SixTerminal, err = m.SixTerminal(); err != nil {
		return Status{}, err
	}
	return s, nil
}

// ServerURL returns the bound server url, "" when unbound.
func (m *Machine) ServerURL() (string, error) {
	sb, err := m.d.Store.Server()
	if err != nil || sb == nil {
		return "", err
	}
	return sb.URL, nil
}

// run wraps one state-changing operation with an id, a log line and a metric.
func (m *Machine) run(ctx context.Context, op string, fn func(log zerolog.Logger) error) error {
	log := m.d.Log.With().Str("op", op).Str("op_id", uuid.NewString()).Logger()
	start := time.Now()
	err := fn(log)
	m.d.Metrics.Operation(op, err)
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("operation failed")
		return err
	}
	log.Info().Dur("duration", time.Since(start)).Msg("operation done")
	return nil
}

type WifiRequest struct {
	SSID       string
	Password   string
	Persistent bool
}

// ServerHint tells a client where to go once the box has joined the network.
type ServerHint struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

type WifiResult struct {
	Message string      `json:"message"`
	Server  *ServerHint `json:"server,omitempty"`
}

// ConnectWifi hands the credentials to the OS and acknowledges immediately.
// Association is not awaited.
func (m *Machine) ConnectWifi(ctx context.Context, req WifiRequest) (WifiResult, error) {
	var res WifiResult
	err := m.run(ctx, "connect_wifi", func(log zerolog.Logger) error {
		if req.SSID == "" {
			return &ConfigurationError{Field: "essid", Reason: "required"}
		}
		if err := m.d.Provisioner.JoinWifi(ctx, system.WifiJoin{SSID: req.SSID, Password: req.Password, Persistent: req.Persistent}); err != nil {
			return err
		}
		if req.Persistent {
			if err := m.d.Store.Update(func(tx *markers.Tx) error {
				return tx.SetWifi(markers.WifiBinding{SSID: req.SSID})
			}); err != nil {
				return err
			}
		}
		res.Message = "Connecting to " + req.SSID
		url, err := m.ServerURL()
		if err != nil {
			return err
		}
		if url != "" {
			res.Server = &ServerHint{URL: url, Message: "Redirect to Odoo Server"}
		}
		log.Info().Str("ssid", req.SSID).Bool("persistent", req.Persistent).Msg("wifi join requested")
		return nil
	})
	return res, err
}

// ClearWifi only forgets the marker. No disassociation happens at the OS level.
func (m *Machine) ClearWifi(ctx context.Context) (Redirect, error) {
	err := m.run(ctx, "clear_wifi", func(zerolog.Logger) error {
		return m.d.Store.Remove(markers.WifiNetwork)
	})
	return Redirect{URL: m.BoxURL(ctx, "")}, err
}

func (m *Machine) iotName(name string) string {
	if name != "" {
		return name
	}
	return m.d.Identity.DefaultIoTName()
}

// ConnectServer binds the box to the server named by a "url|secret" token and
// returns the box URL the client should reload.
func (m *Machine) ConnectServer(ctx context.Context, token, iotName string) (string, error) {
	err := m.run(ctx, "connect_server", func(log zerolog.Logger) error {
		url, secret, err := ParseToken(token)
		if err != nil {
			return err
		}
		name := m.iotName(iotName)
		if err := m.d.Provisioner.BindServer(ctx, system.ServerBind{URL: url, IoTName: name, Token: secret}); err != nil {
			return err
		}
		log.Info().Str("server", url).Str("iot_name", name).Msg("server bound")
		return m.d.Store.Update(func(tx *markers.Tx) error {
			return tx.SetServer(markers.ServerBinding{URL: url, AuthToken: secret})
		})
	})
	if err != nil {
		return "", err
	}
	return m.BoxURL(ctx, ""), nil
}

func (m *Machine) ClearServer(ctx context.Context) (Redirect, error) {
	err := m.run(ctx, "clear_server", func(zerolog.Logger) error {
		return m.d.Store.Remove(markers.RemoteServer)
	})
	return Redirect{URL: m.BoxURL(ctx, "")}, err
}

type StepRequest struct {
	Token      string
	IoTName    string
	SSID       string
	Password   string
	Persistent bool
}

// StepConfigure is the guided single-shot flow. An empty token means no
// server binding and is not an error. It returns the bound server url.
func (m *Machine) StepConfigure(ctx context.Context, req StepRequest) (string, error) {
	var url string
	err := m.run(ctx, "step_configure", func(log zerolog.Logger) error {
		var secret string
		if req.Token != "" {
			var err error
			if url, secret, err = ParseToken(req.Token); err != nil {
				return err
			}
		}
		name := m.iotName(req.IoTName)
		b := system.ServerBind{URL: url, IoTName: name, Token: secret}
		w := system.WifiJoin{SSID: req.SSID, Password: req.Password, Persistent: req.Persistent}
		if err := m.d.Provisioner.BindServerAndWifi(ctx, b, w); err != nil {
			return err
		}
		log.Info().Str("server", url).Str("ssid", req.SSID).Str("iot_name", name).Msg("box configured")
		return m.d.Store.Update(func(tx *markers.Tx) error {
			if url != "" {
				if err := tx.SetServer(markers.ServerBinding{URL: url, AuthToken: secret}); err != nil {
					return err
				}
			}
			if req.Persistent && req.SSID != "" {
				return tx.SetWifi(markers.WifiBinding{SSID: req.SSID})
			}
			return nil
		})
	})
	return url, err
}

// SixTerminal returns the configured payment terminal id or NotConfigured.
func (m *Machine) SixTerminal() (string, error) {
	id, err := m.d.Store.SixTerminal()
	if err != nil {
		return "", err
	}
	if id == "" {
		return NotConfigured, nil
	}
	return id, nil
}

// SetSixTerminal records the terminal and restarts the driver service. A
// failed restart puts the previous marker back.
func (m *Machine) SetSixTerminal(ctx context.Context, terminalID string) (string, error) {
	err := m.run(ctx, "six_terminal_add", func(log zerolog.Logger) error {
		if terminalID == "" {
			return &ConfigurationError{Field: "terminal_id", Reason: "required"}
		}
		return m.swapSixTerminal(ctx, log, func(tx *markers.Tx) error {
			return tx.Write(markers.SixPaymentTerminal, terminalID)
		})
	})
	if err != nil {
		return "", err
	}
	return m.BoxURL(ctx, ""), nil
}

func (m *Machine) ClearSixTerminal(ctx context.Context) (Redirect, error) {
	err := m.run(ctx, "six_terminal_clear", func(log zerolog.Logger) error {
		return m.swapSixTerminal(ctx, log, func(tx *markers.Tx) error {
			return tx.Remove(markers.SixPaymentTerminal)
		})
	})
	return Redirect{URL: m.BoxURL(ctx, "")}, err
}

func (m *Machine) swapSixTerminal(ctx context.Context, log zerolog.Logger, apply func(*markers.Tx) error) error {
	return m.d.Store.Update(func(tx *markers.Tx) error {
		prev, had, err := tx.Read(markers.SixPaymentTerminal)
		if err != nil {
			return err
		}
		if err := apply(tx); err != nil {
			return err
		}
		rerr := m.d.Service.Restart(ctx)
		if rerr == nil {
			return nil
		}
		var restore error
		if had {
			restore = tx.Write(markers.SixPaymentTerminal, prev)
		} else {
			restore = tx.Remove(markers.SixPaymentTerminal)
		}
		if restore != nil {
			log.Error().Err(restore).Msg("restore six terminal marker")
		}
		return rerr
	})
}
