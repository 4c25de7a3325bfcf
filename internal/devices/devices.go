// Package devices builds the unified peripheral list shown on the status page.
// Two generations of driver subsystems are supported: the legacy proxy drivers,
// which only report a status string and messages, and the live device registry.
package devices

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Status is one row of the status page. It is rebuilt on every query.
type Status struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Message string  `json:"message"`
	Value   *string `json:"value,omitempty"`
}

const TypeDevice = "device"

// ProxyStatus is what a legacy proxy driver reports about itself.
type ProxyStatus struct {
	Status   string   `json:"status"`
	Messages []string `json:"messages"`
}

// Device is one entry of the live driver registry.
type Device struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Value      any    `json:"value"`
	Message    string `json:"message"`
}

type ProxyRegistry interface {
	ProxyStatuses(ctx context.Context) (map[string]ProxyStatus, error)
}

type DeviceRegistry interface {
	Devices(ctx context.Context) ([]Device, error)
}

// Source is one way of producing the device list.
type Source interface {
	Name() string
	Statuses(ctx context.Context) ([]Status, error)
}

// LegacySource lists connected proxy drivers only.
type LegacySource struct{ Registry ProxyRegistry }

func (LegacySource) Name() string { return "legacy" }

func (s LegacySource) Statuses(ctx context.Context) ([]Status, error) {
	m, err := s.Registry.ProxyStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("proxy statuses: %w", err)
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Status, 0, len(names))
	for _, name := range names {
		st := m[name]
		if st.Status != "connected" {
			continue
		}
		out = append(out, Status{Name: name, Type: TypeDevice, Message: strings.Join(st.Messages, " ")})
	}
	return out, nil
}

// LiveSource lists every registered device whatever its state.
type LiveSource struct{ Registry DeviceRegistry }

func (LiveSource) Name() string { return "live" }

func (s LiveSource) Statuses(ctx context.Context) ([]Status, error) {
	list, err := s.Registry.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("device registry: %w", err)
	}
	out := make([]Status, 0, len(list))
	for _, d := range list {
		st := Status{Type: d.Type, Message: d.Identifier + d.Message}
		// a device that never reported shows "None", the label the driver UI uses
		label := "None"
		if d.Value != nil {
			val := fmt.Sprint(d.Value)
			st.Value = &val
			label = val
		}
		st.Name = d.Name + " : " + label
		if st.Type == "" {
			st.Type = TypeDevice
		}
		out = append(out, st)
	}
	return out, nil
}
