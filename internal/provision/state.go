package provision

import (
	"strings"

	"iotbox/boxd/internal/netmode"
)

type State int

const (
	Configured State = iota
	NeedsSetup
)

func (s State) String() string {
	if s == NeedsSetup {
		return "needs_setup"
	}
	return "configured"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Evaluate derives the provisioning state. The box needs setup only while it
// broadcasts its own access point and is missing either binding.
func Evaluate(mode netmode.Mode, wifiBound, serverBound bool) State {
	if mode.Kind == netmode.WifiAccessPoint && (!wifiBound || !serverBound) {
		return NeedsSetup
	}
	return Configured
}

// ParseToken splits a pairing token "url|secret" on the first separator.
func ParseToken(token string) (string, string, error) {
	url, secret, ok := strings.Cut(strings.TrimSpace(token), "|")
	if !ok {
		return "", "", &ConfigurationError{Field: "token", Reason: `expected "url|secret"`}
	}
	if url == "" {
		return "", "", &ConfigurationError{Field: "token", Reason: "server url is empty"}
	}
	return url, secret, nil
}
