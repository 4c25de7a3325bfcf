package system

import (
	"bufio"
	"context"
	"errors"
	"html"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ScanList reads the Wi-Fi scan result file: one SSID per line, right-trimmed,
// HTML-escaped and de-duplicated in order. A missing file yields an empty list.
func ScanList(path string, log zerolog.Logger) []string {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("path", path).Msg("no wifi scan results")
		} else {
			log.Error().Err(err).Str("path", path).Msg("read wifi scan results")
		}
		return []string{}
	}
	defer f.Close()

	out := []string{}
	seen := map[string]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		ssid := strings.TrimRight(sc.Text(), " \t\r")
		if ssid == "" {
			continue
		}
		ssid = html.EscapeString(ssid)
		if seen[ssid] {
			continue
		}
		seen[ssid] = true
		out = append(out, ssid)
	}
	if err := sc.Err(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("read wifi scan results")
	}
	return out
}

// Rescanner refreshes the scan file on a cron schedule while the box is
// broadcasting its own access point.
type Rescanner struct {
	scan     func(context.Context) error
	inAPMode func(context.Context) bool
	log      zerolog.Logger

	cron    *cron.Cron
	running sync.Mutex
}

func NewRescanner(scan func(context.Context) error, inAPMode func(context.Context) bool, log zerolog.Logger) *Rescanner {
	return &Rescanner{
		scan:     scan,
		inAPMode: inAPMode,
		log:      log.With().Str("component", "wifi-rescan").Logger(),
		cron:     cron.New(),
	}
}

// Start schedules the rescan using a standard 5-field cron spec (or a
// descriptor such as "@every 2m") and stops it when ctx is done.
func (r *Rescanner) Start(ctx context.Context, spec string) error {
	if _, err := r.cron.AddFunc(spec, func() { r.Tick(ctx) }); err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info().Str("schedule", spec).Msg("wifi rescan scheduled")
	go func() {
		<-ctx.Done()
		<-r.cron.Stop().Done()
	}()
	return nil
}

// Tick runs one rescan unless one is already in flight or the box is not in
// access-point mode.
func (r *Rescanner) Tick(ctx context.Context) {
	if !r.running.TryLock() {
		return
	}
	defer r.running.Unlock()
	if !r.inAPMode(ctx) {
		return
	}
	if err := r.scan(ctx); err != nil {
		r.log.Warn().Err(err).Msg("wifi rescan failed")
	}
}
