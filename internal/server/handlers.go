package server

import (
	"net/http"
	"strconv"

	"github.com/skip2/go-qrcode"

	"iotbox/boxd/internal/provision"
	"iotbox/boxd/internal/views"
	"iotbox/boxd/pkg/httpx"
)

func (h *handlers) home(w http.ResponseWriter, r *http.Request) {
	home, err := h.Machine.Home(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if home.Wizard != nil {
		h.render(w, r, views.ConfigureWizard, views.Wizard(*home.Wizard))
		return
	}
	h.render(w, r, views.Homepage, views.Home(*home.Status))
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	st, s, err := h.Machine.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"state": st, "status": s})
}

func (h *handlers) stepsPage(w http.ResponseWriter, r *http.Request) {
	wz, err := h.Machine.Wizard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, views.ConfigureWizard, views.Wizard(wz))
}

func (h *handlers) wifiPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, views.WifiConfig, views.Wifi(h.Machine.WifiNetworks()))
}

func (h *handlers) serverPage(w http.ResponseWriter, r *http.Request) {
	url, err := h.Machine.ServerURL()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, views.ServerConfig, views.Server(h.Machine.Identity().Hostname, url))
}

func (h *handlers) remotePage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, views.RemoteConnect, views.Remote())
}

func (h *handlers) sixTerminalPage(w http.ResponseWriter, r *http.Request) {
	id, err := h.Machine.SixTerminal()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, views.SixPaymentTerminal, views.SixTerminal(id))
}

func (h *handlers) listDrivers(w http.ResponseWriter, r *http.Request) {
	names, err := h.Drivers.ListInstalled()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	url, err := h.Machine.ServerURL()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, views.DriverList, views.Drivers(names, url))
}

func (h *handlers) loadDrivers(w http.ResponseWriter, r *http.Request) {
	res, err := h.Drivers.FetchAndInstall(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("X-Drivers-Fetched", strconv.FormatBool(res.Fetched))
	httpx.WriteRefresh(w, LoadDriversDelay, h.Machine.BoxURL(r.Context(), "/list_drivers"))
}

func (h *handlers) clearDrivers(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Drivers.ClearAll(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteRefresh(w, 0, h.Machine.BoxURL(r.Context(), "/list_drivers"))
}

func (h *handlers) connectWifi(w http.ResponseWriter, r *http.Request) {
	var f wifiForm
	if err := decodeForm(h.forms, r, &f); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Machine.ConnectWifi(r.Context(), provision.WifiRequest{SSID: f.ESSID, Password: f.Password, Persistent: f.Persistent})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handlers) clearWifi(w http.ResponseWriter, r *http.Request) {
	rd, err := h.Machine.ClearWifi(r.Context())
	h.redirect(w, r, rd, err)
}

func (h *handlers) connectServer(w http.ResponseWriter, r *http.Request) {
	var f serverForm
	if err := decodeForm(h.forms, r, &f); err != nil {
		h.fail(w, r, err)
		return
	}
	url, err := h.Machine.ConnectServer(r.Context(), f.Token, f.IoTName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteText(w, http.StatusOK, url)
}

func (h *handlers) clearServer(w http.ResponseWriter, r *http.Request) {
	rd, err := h.Machine.ClearServer(r.Context())
	h.redirect(w, r, rd, err)
}

func (h *handlers) stepConfigure(w http.ResponseWriter, r *http.Request) {
	var f stepForm
	if err := decodeForm(h.forms, r, &f); err != nil {
		h.fail(w, r, err)
		return
	}
	url, err := h.Machine.StepConfigure(r.Context(), provision.StepRequest{
		Token:      f.Token,
		IoTName:    f.IoTName,
		SSID:       f.ESSID,
		Password:   f.Password,
		Persistent: f.Persistent,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteText(w, http.StatusOK, url)
}

func (h *handlers) enableTunnel(w http.ResponseWriter, r *http.Request) {
	var f tunnelForm
	if err := decodeForm(h.forms, r, &f); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Tunnel.Enable(r.Context(), f.AuthToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteText(w, http.StatusOK, res.Message)
}

func (h *handlers) addSixTerminal(w http.ResponseWriter, r *http.Request) {
	var f terminalForm
	if err := decodeForm(h.forms, r, &f); err != nil {
		h.fail(w, r, err)
		return
	}
	url, err := h.Machine.SetSixTerminal(r.Context(), f.TerminalID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteText(w, http.StatusOK, url)
}

func (h *handlers) clearSixTerminal(w http.ResponseWriter, r *http.Request) {
	rd, err := h.Machine.ClearSixTerminal(r.Context())
	h.redirect(w, r, rd, err)
}

// qrCode encodes the box address so a phone on the setup network can open it.
func (h *handlers) qrCode(w http.ResponseWriter, r *http.Request) {
	qr, err := qrcode.New(h.Machine.BoxURL(r.Context(), ""), qrcode.Medium)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	png, err := qr.PNG(256)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}
