// Package system invokes the OS-level primitives of the box: configuration
// shell scripts, service restart and root filesystem remounts. Every call is
// bounded by the runner's timeout and single-attempt.
package system

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"iotbox/boxd/internal/metrics"
	"iotbox/boxd/pkg/shell"
)

// PrimitiveError is a failed OS primitive: a non-zero exit, a timeout or a
// binary that could not be started.
type PrimitiveError struct {
	Primitive string
	Code      int
	Stderr    string
	Err       error
}

func (e *PrimitiveError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", e.Primitive, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PrimitiveError) Unwrap() error { return e.Err }

// Invoker runs named primitives with logging, metrics and redaction.
type Invoker struct {
	Runner  shell.Runner
	Log     zerolog.Logger
	Metrics *metrics.Metrics
	// Sudo prefixes privileged commands.
	Sudo bool
}

// Call runs name with args. secret marks argument positions that are not logged.
func (in Invoker) Call(ctx context.Context, primitive, name string, args []string, secret ...int) error {
	start := time.Now()
	_, err := shell.Check(ctx, in.Runner, name, args...)
	dur := time.Since(start)
	in.Metrics.ObservePrimitive(primitive, err, dur)

	ev := in.Log.Info()
	if err != nil {
		ev = in.Log.Error().Err(err)
	}
	ev.Str("primitive", primitive).Strs("args", redact(args, secret)).Dur("duration", dur).Msg("os primitive")
	if err == nil {
		return nil
	}
	pe := &PrimitiveError{Primitive: primitive, Code: -1, Err: err}
	var ee *shell.ExitError
	if errors.As(err, &ee) {
		pe.Code = ee.Code
		pe.Stderr = ee.Stderr
	}
	return pe
}

func (in Invoker) privileged(name string, args ...string) (string, []string) {
	if !in.Sudo {
		return name, args
	}
	return "sudo", append([]string{name}, args...)
}

func redact(args []string, secret []int) []string {
	out := append([]string(nil), args...)
	for _, i := range secret {
		if i >= 0 && i < len(out) && out[i] != "" {
			out[i] = "***"
		}
	}
	return out
}

// Scripts drives the configuration scripts shipped with the box image.
type Scripts struct {
	Dir string
	Invoker
}

// WifiJoin is the input of the Wi-Fi join primitive.
type WifiJoin struct {
	SSID       string
	Password   string
	Persistent bool
}

// ServerBind is the input of the server binding primitive.
type ServerBind struct {
	URL     string
	IoTName string
	Token   string
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return ""
}

func (s Scripts) script(name string) string { return filepath.Join(s.Dir, name) }

func (s Scripts) JoinWifi(ctx context.Context, w WifiJoin) error {
	return s.Call(ctx, "connect_to_wifi", s.script("connect_to_wifi.sh"),
		[]string{w.SSID, w.Password, flag(w.Persistent)}, 1)
}

// BindServer always asks the script to reboot networking when it sees fit.
func (s Scripts) BindServer(ctx context.Context, b ServerBind) error {
	return s.Call(ctx, "connect_to_server", s.script("connect_to_server.sh"),
		[]string{b.URL, b.IoTName, b.Token, "reboot"}, 2)
}

func (s Scripts) BindServerAndWifi(ctx context.Context, b ServerBind, w WifiJoin) error {
	return s.Call(ctx, "connect_to_server_wifi", s.script("connect_to_server_wifi.sh"),
		[]string{b.URL, b.IoTName, b.Token, w.SSID, w.Password, flag(w.Persistent)}, 2, 4)
}

// ScanWifi refreshes the scanned networks file.
func (s Scripts) ScanWifi(ctx context.Context) error {
	return s.Call(ctx, "scan_wifi", s.script("scan_wifi.sh"), nil)
}

// Service controls the serving process and the read-only root filesystem.
type Service struct {
	Name         string
	RemountPaths []string
	Invoker
}

func (s Service) Restart(ctx context.Context) error {
	name, args := s.privileged("service", s.Name, "restart")
	return s.Call(ctx, "service_restart", name, args)
}

// Remount switches every configured mount point to mode ("rw" or "ro"),
// stopping at the first failure.
func (s Service) Remount(ctx context.Context, mode string) error {
	for _, p := range s.RemountPaths {
		name, args := s.privileged("mount", "-o", "remount,"+mode, p)
		if err := s.Call(ctx, "remount_"+mode, name, args); err != nil {
			return err
		}
	}
	return nil
}
