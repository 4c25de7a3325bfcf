// Package markers persists the box identity flags as small marker files in the
// operator's home directory. The OS-level configuration scripts read the same
// files, so the format stays one value per line.
package markers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"iotbox/boxd/internal/fsatomic"
)

type Key string

const (
	WifiNetwork        Key = "wifi_network"
	RemoteServer       Key = "remote_server"
	SixPaymentTerminal Key = "six_payment_terminal"
)

var fileNames = map[Key]string{
	WifiNetwork:        "wifi_network.txt",
	RemoteServer:       "odoo-remote-server.conf",
	SixPaymentTerminal: "odoo-six-payment-terminal.conf",
}

// ServerBinding is the remote server the box reports to.
type ServerBinding struct {
	URL       string `json:"url"`
	AuthToken string `json:"-"`
}

// WifiBinding records the network a persistent join was requested for.
type WifiBinding struct {
	SSID string `json:"ssid"`
}

// Store reads and writes marker files under dir. All mutations go through
// Update, which serializes them in-process and across processes.
type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Store { return &Store{dir: dir} }

func (s *Store) Dir() string { return s.dir }

// Path returns the marker file for key.
func (s *Store) Path(key Key) string {
	name, ok := fileNames[key]
	if !ok {
		name = string(key)
	}
	return filepath.Join(s.dir, name)
}

func (s *Store) lockPath() string { return filepath.Join(s.dir, ".boxd") }

// Read returns the first line of the marker, trimmed. A missing marker yields ok=false.
func (s *Store) Read(key Key) (string, bool, error) {
	return fsatomic.ReadFirstLine(s.Path(key))
}

// Exists reports whether the marker file is present.
func (s *Store) Exists(key Key) bool {
	_, err := os.Stat(s.Path(key))
	return err == nil
}

func (s *Store) Write(key Key, value string) error {
	return s.Update(func(tx *Tx) error { return tx.Write(key, value) })
}

func (s *Store) Remove(key Key) error {
	return s.Update(func(tx *Tx) error { return tx.Remove(key) })
}

// Update runs fn while holding the process-wide configuration lock. Driver
// directory mutation runs under the same lock.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fsatomic.WithLock(s.lockPath(), func() error {
		return fn(&Tx{s: s})
	})
}

// Tx is a view of the store valid inside Update.
type Tx struct{ s *Store }

func (tx *Tx) Read(key Key) (string, bool, error) { return tx.s.Read(key) }

func (tx *Tx) Write(key Key, value string) error {
	return fsatomic.WriteFile(tx.s.Path(key), []byte(value+"\n"), 0o644)
}

func (tx *Tx) Remove(key Key) error {
	return fsatomic.Remove(tx.s.Path(key))
}

// WriteLines stores several values, one per line.
func (tx *Tx) WriteLines(key Key, lines ...string) error {
	return fsatomic.WriteFile(tx.s.Path(key), []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}

// Server returns the current server binding. The url is the first line and the
// token, when present, the second.
func (s *Store) Server() (*ServerBinding, error) {
	b, err := os.ReadFile(s.Path(RemoteServer))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read server binding: %w", err)
	}
	lines := strings.Split(string(b), "\n")
	sb := &ServerBinding{URL: strings.TrimSpace(lines[0])}
	if len(lines) > 1 {
		sb.AuthToken = strings.TrimSpace(lines[1])
	}
	if sb.URL == "" {
		return nil, nil
	}
	return sb, nil
}

// SetServer persists b inside an Update.
func (tx *Tx) SetServer(b ServerBinding) error {
	if b.AuthToken == "" {
		return tx.Write(RemoteServer, b.URL)
	}
	return tx.WriteLines(RemoteServer, b.URL, b.AuthToken)
}

func (s *Store) Wifi() (*WifiBinding, error) {
	ssid, ok, err := s.Read(WifiNetwork)
	if err != nil {
		return nil, fmt.Errorf("read wifi binding: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &WifiBinding{SSID: ssid}, nil
}

func (tx *Tx) SetWifi(b WifiBinding) error { return tx.Write(WifiNetwork, b.SSID) }

// SixTerminal returns the configured terminal id, or "" when none.
func (s *Store) SixTerminal() (string, error) {
	id, _, err := s.Read(SixPaymentTerminal)
	return id, err
}
