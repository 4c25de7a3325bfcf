package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"iotbox/boxd/internal/drivers"
	"iotbox/boxd/internal/markers"
	"iotbox/boxd/internal/metrics"
	"iotbox/boxd/internal/netmode"
	"iotbox/boxd/internal/provision"
	"iotbox/boxd/internal/system"
	"iotbox/boxd/internal/tunnel"
	"iotbox/boxd/internal/views"
)

type fakeDetector struct{ mode netmode.Mode }

func (f fakeDetector) Detect(context.Context) netmode.Mode { return f.mode }
func (f fakeDetector) IP(context.Context) string { return "10.0.0.5" }

type fakeProvisioner struct {
	err  error
	wifi []system.WifiJoin
	bind []system.ServerBind
}

func (f *fakeProvisioner) JoinWifi(_ context.Context, w system.WifiJoin) error {
	f.wifi = append(f.wifi, w)
	return f.err
}

func (f *fakeProvisioner) BindServer(_ context.Context, b system.ServerBind) error {
	f.bind = append(f.bind, b)
	return f.err
}

func (f *fakeProvisioner) BindServerAndWifi(_ context.Context, b system.ServerBind, w system.WifiJoin) error {
	f.bind = append(f.bind, b)
	f.wifi = append(f.wifi, w)
	return f.err
}

type nopService struct{}

func (nopService) Restart(context.Context) error { return nil }

type fakeDrivers struct {
	names   []string
	fetched int
	cleared int
}

func (f *fakeDrivers) ListInstalled() ([]string, error) { return f.names, nil }

func (f *fakeDrivers) FetchAndInstall(context.Context) (drivers.FetchResult, error) {
	f.fetched++
	return drivers.FetchResult{Bound: true}, nil
}

func (f *fakeDrivers) ClearAll(context.Context) ([]string, error) {
	f.cleared++
	return f.names, nil
}

type fakeTunnel struct{ calls int }

func (f *fakeTunnel) Enable(_ context.Context, token string) (tunnel.Result, error) {
	f.calls++
	if f.calls > 1 {
		return tunnel.Result{Status: tunnel.AlreadyRunning, Message: tunnel.AlreadyRunning}, nil
	}
	return tunnel.Result{Status: tunnel.Starting, Message: "starting with " + token}, nil
}

type fixture struct {
	handler http.Handler
	store   *markers.Store
	prov    *fakeProvisioner
	drivers *fakeDrivers
}

func newFixture(t *testing.T, mode netmode.Mode) *fixture {
	t.Helper()
	rv, err := views.New()
	if err != nil {
		t.Fatal(err)
	}
	st := markers.New(t.TempDir())
	p := &fakeProvisioner{}
	m := provision.New(provision.Deps{
		Store:        st,
		Detector:     fakeDetector{mode: mode},
		Provisioner:  p,
		Service:      nopService{},
		Identity:     system.Identity{Hostname: "iotbox", MAC: "b8:27:eb:00:00:01", Version: "21.10"},
		ScanNetworks: func() []string { return []string{"Home"} },
		Log:          zerolog.Nop(),
	})
	d := &fakeDrivers{names: []string{"SerialDriver.py"}}
	h := NewRouter(Deps{
		Version: "test",
		Log:     zerolog.Nop(),
		Machine: m,
		Drivers: d,
		Tunnel:  &fakeTunnel{},
		Views:   rv,
		Metrics: metrics.New("test"),
	})
	return &fixture{handler: h, store: st, prov: p, drivers: d}
}

func (f *fixture) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	return res
}

func TestHealth(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.Ethernet})
	res := f.do(http.MethodGet, "/api/health", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["ok"] != true || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestHomeShowsWizardInAccessPointMode(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.WifiAccessPoint})
	res := f.do(http.MethodGet, "/", nil)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "/step_configure") {
		t.Fatalf("want wizard, got %d %s", res.Code, res.Body.String())
	}
}

func TestHomeShowsStatusWhenConfigured(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.Ethernet})
	res := f.do(http.MethodGet, "/", nil)
	body := res.Body.String()
	if res.Code != http.StatusOK || !strings.Contains(body, "b8:27:eb:00:00:01") || !strings.Contains(body, "Ethernet") {
		t.Fatalf("want status page, got %d %s", res.Code, body)
	}
}

func TestStatusJSON(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.WifiClient, SSID: "Home"})
	res := f.do(http.MethodGet, "/api/status", nil)
	var body struct {
		State  string `json:"state"`
		Status struct {
			Network string `json:"network_status"`
			Server  string `json:"server_status"`
		} `json:"status"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.State != "configured" || body.Status.Network != "Wifi : Home" || body.Status.Server != provision.NotConfigured {
		t.Fatalf("unexpected: %+v", body)
	}
}

func TestWifiConnectJSON(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.WifiAccessPoint})
	res := f.do(http.MethodPost, "/wifi_connect", url.Values{"essid": {"Home"}, "password": {"pw"}, "persistent": {"on"}})
	if res.Code != http.StatusOK {
		t.Fatalf("code %d: %s", res.Code, res.Body.String())
	}
	var body map[string]any
	_ = json.Unmarshal(res.Body.Bytes(), &body)
	if body["message"] != "Connecting to Home" {
		t.Fatalf("body: %v", body)
	}
	if _, ok := body["server"]; ok {
		t.Fatalf("no server hint expected: %v", body)
	}
	if len(f.prov.wifi) != 1 || !f.prov.wifi[0].Persistent {
		t.Fatalf("join: %+v", f.prov.wifi)
	}
	if !f.store.Exists(markers.WifiNetwork) {
		t.Fatalf("persistent join must be recorded")
	}
}

func TestWifiConnectMissingESSID(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.WifiAccessPoint})
	res := f.do(http.MethodPost, "/wifi_connect", url.Values{"password": {"pw"}})
	if res.Code != http.StatusBadRequest || !strings.Contains(res.Body.String(), "config.invalid") {
		t.Fatalf("code %d: %s", res.Code, res.Body.String())
	}
}

func TestServerConnect(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.Ethernet})
	res := f.do(http.MethodPost, "/server_connect", url.Values{"token": {"http://x|secret123"}, "iotname": {"box1"}})
	if res.Code != http.StatusOK || res.Body.String() != "http://10.0.0.5:8069" {
		t.Fatalf("code %d: %q", res.Code, res.Body.String())
	}
	res = f.do(http.MethodPost, "/server_connect", url.Values{"token": {"malformed"}})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("malformed token: %d", res.Code)
	}
}

func TestPrimitiveFailureIs500(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.Ethernet})
	f.prov.err = &system.PrimitiveError{Primitive: "connect_to_server", Code: 2, Stderr: "boom"}
	res := f.do(http.MethodPost, "/server_connect", url.Values{"token": {"http://x|s"}})
	if res.Code != http.StatusInternalServerError || !strings.Contains(res.Body.String(), "primitive.failed") {
		t.Fatalf("code %d: %s", res.Code, res.Body.String())
	}
	if f.store.Exists(markers.RemoteServer) {
		t.Fatalf("marker written despite failure")
	}
}

func TestStepConfigureEmptyToken(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.WifiAccessPoint})
	res := f.do(http.MethodPost, "/step_configure", url.Values{"token": {""}, "iotname": {"box1"}, "essid": {"MySSID"}, "password": {"pw"}})
	if res.Code != http.StatusOK || res.Body.String() != "" {
		t.Fatalf("code %d: %q", res.Code, res.Body.String())
	}
}

func TestClearRoutesRedirect(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.Ethernet})
	if err := f.store.Write(markers.WifiNetwork, "Home"); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{"/wifi_clear", "/wifi_clear", "/server_clear"} {
		res := f.do(http.MethodGet, path, nil)
		want := "<meta http-equiv='refresh' content='0; url=http://10.0.0.5:8069'>"
		if res.Code != http.StatusOK || res.Body.String() != want {
			t.Fatalf("%s: %d %q", path, res.Code, res.Body.String())
		}
	}
	if f.store.Exists(markers.WifiNetwork) {
		t.Fatalf("wifi marker still present")
	}
}

func TestDriverRoutes(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.Ethernet})
	res := f.do(http.MethodGet, "/list_drivers", nil)
	if !strings.Contains(res.Body.String(), "SerialDriver.py") {
		t.Fatalf("list: %s", res.Body.String())
	}
	res = f.do(http.MethodGet, "/load_drivers", nil)
	if f.drivers.fetched != 1 || !strings.Contains(res.Body.String(), "content='20; url=http://10.0.0.5:8069/list_drivers'") {
		t.Fatalf("load: %s", res.Body.String())
	}
	res = f.do(http.MethodPost, "/drivers_clear", nil)
	if f.drivers.cleared != 1 || !strings.Contains(res.Body.String(), "content='0; url=http://10.0.0.5:8069/list_drivers'") {
		t.Fatalf("clear: %s", res.Body.String())
	}
}

func TestEnableNgrok(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.Ethernet})
	res := f.do(http.MethodPost, "/enable_ngrok", url.Values{"auth_token": {"abc"}})
	if res.Body.String() != "starting with abc" {
		t.Fatalf("first: %q", res.Body.String())
	}
	res = f.do(http.MethodPost, "/enable_ngrok", url.Values{"auth_token": {"abc"}})
	if res.Body.String() != "already running" {
		t.Fatalf("second: %q", res.Body.String())
	}
}

func TestSixTerminalRoutes(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.Ethernet})
	res := f.do(http.MethodPost, "/six_payment_terminal_add", url.Values{"terminal_id": {"T1"}})
	if res.Code != http.StatusOK || res.Body.String() != "http://10.0.0.5:8069" {
		t.Fatalf("add: %d %q", res.Code, res.Body.String())
	}
	res = f.do(http.MethodGet, "/six_payment_terminal", nil)
	if !strings.Contains(res.Body.String(), "T1") {
		t.Fatalf("page: %s", res.Body.String())
	}
	f.do(http.MethodGet, "/six_payment_terminal_clear", nil)
	if f.store.Exists(markers.SixPaymentTerminal) {
		t.Fatalf("terminal marker still present")
	}
}

func TestPagesRender(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.Ethernet})
	for _, path := range []string{"/wifi", "/server", "/steps", "/remote_connect"} {
		res := f.do(http.MethodGet, path, nil)
		if res.Code != http.StatusOK || !strings.HasPrefix(res.Header().Get("Content-Type"), "text/html") {
			t.Fatalf("%s: %d", path, res.Code)
		}
	}
}

func TestQRCodeAndMetrics(t *testing.T) {
	f := newFixture(t, netmode.Mode{Kind: netmode.WifiAccessPoint})
	res := f.do(http.MethodGet, "/qrcode.png", nil)
	if res.Code != http.StatusOK || res.Header().Get("Content-Type") != "image/png" || res.Body.Len() == 0 {
		t.Fatalf("qrcode: %d %s", res.Code, res.Header().Get("Content-Type"))
	}
	f.do(http.MethodPost, "/server_connect", url.Values{"token": {"http://x|s"}})
	res = f.do(http.MethodGet, "/metrics", nil)
	if !strings.Contains(res.Body.String(), `iotbox_build_info{version="test"} 1`) {
		t.Fatalf("metrics: %s", res.Body.String())
	}
}

func TestTruthy(t *testing.T) {
	for in, want := range map[string]bool{"": false, "0": false, "false": false, "on": true, "1": true, "True": true} {
		if truthy(in) != want {
			t.Fatalf("truthy(%q) != %v", in, want)
		}
	}
}
