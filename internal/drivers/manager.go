// Package drivers manages the driver packages installed on the box: listing,
// fetching the archive assigned by the bound server, and clearing.
package drivers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"iotbox/boxd/internal/markers"
	"iotbox/boxd/internal/metrics"
)

// Service is the serving process and the read-only root it lives on.
type Service interface {
	Restart(ctx context.Context) error
	Remount(ctx context.Context, mode string) error
}

type ArchiveFetcher interface {
	Fetch(ctx context.Context, server, mac string) ([]byte, error)
}

type Manager struct {
	Dir       string
	CacheName string
	// Store supplies the server binding and the process-wide lock.
	Store   *markers.Store
	Service Service
	Fetcher ArchiveFetcher
	MAC     string
	Log     zerolog.Logger
	Metrics *metrics.Metrics
}

// FetchResult reports what a fetch cycle did.
type FetchResult struct {
	Bound     bool     `json:"bound"`
	Fetched   bool     `json:"fetched"`
	Installed []string `json:"installed,omitempty"`
	Restarted bool     `json:"restarted"`
}

// ListInstalled returns the package names in the drivers directory, sorted,
// without the interpreter cache entry.
func (m *Manager) ListInstalled() ([]string, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() == m.CacheName {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// FetchAndInstall downloads the archive assigned to this box and extracts it
// over the drivers directory, then restarts the service. Without a server
// binding it does nothing. A failed fetch is logged and the restart still
// happens; remount and restart failures are returned.
func (m *Manager) FetchAndInstall(ctx context.Context) (FetchResult, error) {
	var res FetchResult
	sb, err := m.Store.Server()
	if err != nil {
		return res, err
	}
	if sb == nil {
		m.Log.Info().Msg("no server bound, skipping driver fetch")
		return res, nil
	}
	res.Bound = true
	err = m.Store.Update(func(*markers.Tx) error {
		if err := m.Service.Remount(ctx, "rw"); err != nil {
			return err
		}
		res.Installed, res.Fetched = m.fetch(ctx, sb.URL)
		rerr := m.Service.Restart(ctx)
		res.Restarted = rerr == nil
		return errors.Join(rerr, m.Service.Remount(ctx, "ro"))
	})
	return res, err
}

func (m *Manager) fetch(ctx context.Context, server string) ([]string, bool) {
	log := m.Log.With().Str("server", server).Logger()
	data, err := m.Fetcher.Fetch(ctx, server, m.MAC)
	if err != nil {
		log.Error().Err(err).Msg("could not reach configured server")
		m.Metrics.DriverFetch("unreachable")
		return nil, false
	}
	if len(data) == 0 {
		log.Info().Msg("server returned no drivers")
		m.Metrics.DriverFetch("empty")
		return nil, false
	}
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		log.Error().Err(err).Msg("create drivers dir")
		m.Metrics.DriverFetch("error")
		return nil, false
	}
	installed, err := Extract(data, m.Dir)
	if err != nil {
		log.Error().Err(err).Msg("install driver archive")
		m.Metrics.DriverFetch("error")
		return installed, false
	}
	log.Info().Strs("drivers", installed).Msg("drivers installed")
	m.Metrics.DriverFetch("ok")
	return installed, true
}

// ClearAll removes every installed package. It does not restart the service.
func (m *Manager) ClearAll(ctx context.Context) ([]string, error) {
	var removed []string
	err := m.Store.Update(func(*markers.Tx) error {
		names, err := m.ListInstalled()
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := os.RemoveAll(filepath.Join(m.Dir, name)); err != nil {
				return err
			}
			removed = append(removed, name)
		}
		return nil
	})
	if err == nil {
		m.Log.Info().Strs("drivers", removed).Msg("drivers cleared")
	}
	return removed, err
}
