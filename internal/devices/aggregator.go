package devices

import (
	"context"
	"fmt"
)

type Mode string

const (
	ModeLive   Mode = "live"
	ModeLegacy Mode = "legacy"
	// ModeAuto prefers the live registry and falls back to the legacy proxy
	// drivers when it is empty.
	ModeAuto Mode = "auto"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLive, ModeLegacy, ModeAuto:
		return Mode(s), nil
	case "":
		return ModeLive, nil
	}
	return "", fmt.Errorf("unknown device source %q", s)
}

// Aggregator picks exactly one source per call.
type Aggregator struct {
	mode   Mode
	live   Source
	legacy Source
}

func NewAggregator(mode Mode, live DeviceRegistry, legacy ProxyRegistry) *Aggregator {
	a := &Aggregator{mode: mode}
	if live != nil {
		a.live = LiveSource{Registry: live}
	}
	if legacy != nil {
		a.legacy = LegacySource{Registry: legacy}
	}
	return a
}

func (a *Aggregator) Mode() Mode { return a.mode }

func (a *Aggregator) Aggregate(ctx context.Context) ([]Status, error) {
	switch a.mode {
	case ModeLegacy:
		return statuses(ctx, a.legacy)
	case ModeAuto:
		list, err := statuses(ctx, a.live)
		if err == nil && len(list) > 0 {
			return list, nil
		}
		return statuses(ctx, a.legacy)
	default:
		return statuses(ctx, a.live)
	}
}

func statuses(ctx context.Context, s Source) ([]Status, error) {
	if s == nil {
		return []Status{}, nil
	}
	return s.Statuses(ctx)
}
