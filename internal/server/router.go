package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/schema"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"iotbox/boxd/internal/drivers"
	"iotbox/boxd/internal/metrics"
	"iotbox/boxd/internal/provision"
	"iotbox/boxd/internal/system"
	"iotbox/boxd/internal/tunnel"
	"iotbox/boxd/internal/views"
	"iotbox/boxd/pkg/httpx"
)

// LoadDriversDelay is how long the browser waits for the restarted service
// before reloading the driver list.
const LoadDriversDelay = 20

type DriverManager interface {
	ListInstalled() ([]string, error)
	FetchAndInstall(ctx context.Context) (drivers.FetchResult, error)
	ClearAll(ctx context.Context) ([]string, error)
}

type TunnelEnabler interface {
	Enable(ctx context.Context, authToken string) (tunnel.Result, error)
}

type Deps struct {
	Version string
	Log     zerolog.Logger
	Machine *provision.Machine
	Drivers DriverManager
	Tunnel  TunnelEnabler
	Views   *views.Renderer
	Metrics *metrics.Metrics
}

type handlers struct {
	Deps
	forms *schema.Decoder
}

func NewRouter(d Deps) http.Handler {
	h := &handlers{Deps: d, forms: newDecoder()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(zerologMiddleware(d.Log))

	// Operators reach the box from pages served by the bound server.
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	r.Use(c.Handler)

	r.Get("/", h.home)
	r.Get("/list_drivers", h.listDrivers)
	r.Get("/wifi", h.wifiPage)
	r.Get("/server", h.serverPage)
	r.Get("/steps", h.stepsPage)
	r.Get("/remote_connect", h.remotePage)
	r.Get("/six_payment_terminal", h.sixTerminalPage)

	action := func(path string, fn http.HandlerFunc) {
		r.Get(path, fn)
		r.Post(path, fn)
	}
	action("/load_drivers", h.loadDrivers)
	action("/drivers_clear", h.clearDrivers)
	action("/wifi_connect", h.connectWifi)
	action("/wifi_clear", h.clearWifi)
	action("/server_connect", h.connectServer)
	action("/server_clear", h.clearServer)
	action("/step_configure", h.stepConfigure)
	action("/enable_ngrok", h.enableTunnel)
	action("/six_payment_terminal_add", h.addSixTerminal)
	action("/six_payment_terminal_clear", h.clearSixTerminal)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "version": d.Version})
	})
	r.Get("/api/status", h.status)
	r.Get("/qrcode.png", h.qrCode)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}
	return r
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ce *provision.ConfigurationError
	var pe *system.PrimitiveError
	switch {
	case errors.As(err, &ce):
		httpx.WriteError(w, http.StatusBadRequest, "config.invalid", ce.Error())
	case errors.As(err, &pe):
		httpx.WriteErrorWithDetails(w, http.StatusInternalServerError, "primitive.failed", pe.Error(),
			map[string]any{"primitive": pe.Primitive, "exitCode": pe.Code})
	default:
		h.Log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (h *handlers) render(w http.ResponseWriter, r *http.Request, v views.View, data any) {
	body, err := h.Views.Render(v, data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteHTML(w, http.StatusOK, body)
}

func (h *handlers) redirect(w http.ResponseWriter, r *http.Request, rd provision.Redirect, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteRefresh(w, rd.Delay, rd.URL)
}
