package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"iotbox/boxd/internal/announce"
	"iotbox/boxd/internal/config"
	"iotbox/boxd/internal/devices"
	"iotbox/boxd/internal/drivers"
	"iotbox/boxd/internal/markers"
	"iotbox/boxd/internal/metrics"
	"iotbox/boxd/internal/netmode"
	"iotbox/boxd/internal/provision"
	"iotbox/boxd/internal/server"
	"iotbox/boxd/internal/system"
	"iotbox/boxd/internal/tunnel"
	"iotbox/boxd/internal/views"
	"iotbox/boxd/pkg/shell"
)

// Version is set by the build.
var Version = "dev"

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "boxd",
		Short:         "IoT box configuration and status surface",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $BOX_CONFIG)")
	root.AddCommand(newServeCmd(), newDetectCmd(), newVersionCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "boxd:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if cfgFile != "" {
		return config.Load(cfgFile)
	}
	return config.FromEnv()
}

// checkDeviceURL rejects a driver registry address that resolves to boxd's own
// listener; boxd serves no registry routes.
func checkDeviceURL(bind, deviceURL string) error {
	u, err := url.Parse(deviceURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("devices.url %q: not an absolute url", deviceURL)
	}
	bindHost, bindPort, err := net.SplitHostPort(bind)
	if err != nil {
		return fmt.Errorf("http.bind %q: %w", bind, err)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	if port != bindPort {
		return nil
	}
	host := u.Hostname()
	if host == bindHost || (isLoopback(host) && (isLoopback(bindHost) || isWildcard(bindHost))) {
		return fmt.Errorf("devices.url %s points at boxd's own listener %s", deviceURL, bind)
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func isWildcard(host string) bool {
	if host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsUnspecified()
}

// app holds every component built from one configuration.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	metrics  *metrics.Metrics
	detector *netmode.Detector
	scripts  system.Scripts
	identity system.Identity
	store    *markers.Store
	machine  *provision.Machine
	drivers  *drivers.Manager
	tunnel   *tunnel.Controller
}

func build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	if cfg.MetricsEnabled {
		a.metrics = metrics.New(Version)
	}
	runner := shell.Exec{Timeout: cfg.CommandTimeout}
	inv := system.Invoker{Runner: runner, Log: log.With().Str("component", "system").Logger(), Metrics: a.metrics}
	a.scripts = system.Scripts{Dir: cfg.ScriptsDir, Invoker: inv}
	privileged := inv
	privileged.Sudo = true
	svc := system.Service{Name: cfg.ServiceName, RemountPaths: cfg.RemountPaths, Invoker: privileged}

	probe := netmode.SystemProbe{WiredInterface: cfg.WiredInterface, WifiInterface: cfg.WifiInterface, Runner: runner}
	a.detector = netmode.NewDetector(probe, cfg.AccessPointIP, log.With().Str("component", "netmode").Logger())
	a.identity = system.ResolveIdentity(ctx, cfg.WiredInterface, cfg.VersionFile)
	a.store = markers.New(cfg.HomeDir)

	if err := checkDeviceURL(cfg.Bind, cfg.DeviceURL); err != nil {
		return nil, err
	}
	mode, err := devices.ParseMode(cfg.DeviceSource)
	if err != nil {
		return nil, err
	}
	client := devices.NewClient(cfg.DeviceURL, cfg.FetchTimeout)
	agg := devices.NewAggregator(mode, client, client)

	a.machine = provision.New(provision.Deps{
		Store:        a.store,
		Detector:     a.detector,
		Provisioner:  a.scripts,
		Service:      svc,
		Devices:      agg,
		Identity:     a.identity,
		ScanNetworks: func() []string { return system.ScanList(cfg.ScanFile, log) },
		Gateway:      netmode.Gateway,
		PublicPort:   cfg.PublicPort,
		Log:          log.With().Str("component", "provision").Logger(),
		Metrics:      a.metrics,
	})
	a.drivers = &drivers.Manager{
		Dir:       cfg.DriversDir,
		CacheName: cfg.DriversCacheName,
		Store:     a.store,
		Service:   svc,
		Fetcher:   drivers.NewFetcher(cfg.FetchTimeout, cfg.DriversInsecureTLS),
		MAC:       a.identity.MAC,
		Log:       log.With().Str("component", "drivers").Logger(),
		Metrics:   a.metrics,
	}
	a.tunnel = tunnel.NewController(&tunnel.Process{
		Binary:  cfg.TunnelBinary,
		LogFile: cfg.TunnelLog,
		Port:    cfg.TunnelPort,
		Runner:  runner,
		Log:     log,
	}, log, a.metrics)
	return a, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the configuration surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := server.Logger(cfg, server.LogWriter(cfg))
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	rv, err := views.New()
	if err != nil {
		return err
	}
	if a.cfg.ScanSchedule != "" {
		inAP := func(ctx context.Context) bool { return a.detector.Detect(ctx).Kind == netmode.WifiAccessPoint }
		if err := system.NewRescanner(a.scripts.ScanWifi, inAP, a.log).Start(ctx, a.cfg.ScanSchedule); err != nil {
			return fmt.Errorf("scan.schedule: %w", err)
		}
	}
	if a.cfg.MDNSEnabled {
		bound, _ := a.machine.ServerURL()
		txt := announce.TXT(a.identity.MAC, a.identity.Version, bound)
		ifaces := announce.Interfaces(a.cfg.WiredInterface, a.cfg.WifiInterface)
		if err := announce.Publish(ctx, a.identity.Hostname, a.cfg.PublicPort, txt, ifaces, a.log); err != nil {
			a.log.Warn().Err(err).Msg("mdns announcement failed")
		}
	}

	srv := &http.Server{
		Addr: a.cfg.Bind,
		Handler: server.NewRouter(server.Deps{
			Version: Version,
			Log:     a.log,
			Machine: a.machine,
			Drivers: a.drivers,
			Tunnel:  a.tunnel,
			Views:   rv,
			Metrics: a.metrics,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	a.log.Info().Str("version", Version).Msgf("boxd listening on http://%s", a.cfg.Bind)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func newDetectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Print the network mode and provisioning state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := server.Logger(cfg, os.Stderr)
			a, err := build(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			state, mode := a.machine.State(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(map[string]any{"state": state, "mode": mode, "ip": a.detector.IP(cmd.Context())})
			}
			label := color.New(color.FgGreen).SprintFunc()
			if state == provision.NeedsSetup {
				label = color.New(color.FgYellow).SprintFunc()
			}
			fmt.Fprintf(out, "network: %s\nstate:   %s\n", mode, label(state))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
