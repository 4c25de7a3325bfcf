// Package views renders the pages of the configuration surface from embedded
// html/template files.
package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"iotbox/boxd/internal/provision"
)

//go:embed templates/*.html
var templateFS embed.FS

type View string

const (
	Homepage           View = "homepage.html"
	ConfigureWizard    View = "configure_wizard.html"
	WifiConfig         View = "wifi_config.html"
	ServerConfig       View = "server_config.html"
	DriverList         View = "driver_list.html"
	RemoteConnect      View = "remote_connect.html"
	SixPaymentTerminal View = "six_payment_terminal.html"
)

// Layout carries the fields every page header reads.
type Layout struct {
	Title          string
	Breadcrumb     string
	LoadingMessage string
}

type HomePage struct {
	Layout
	provision.Status
}

type WizardPage struct {
	Layout
	Hostname string
	Server   string
	SSIDs    []template.HTML
}

type WifiPage struct {
	Layout
	SSIDs []template.HTML
}

type ServerPage struct {
	Layout
	Hostname     string
	ServerStatus string
}

type DriversPage struct {
	Layout
	Drivers []string
	Server  string
}

type SixTerminalPage struct {
	Layout
	TerminalID string
}

// Renderer is the pure render(view, data) -> markup function of the surface.
type Renderer struct {
	pages map[View]*template.Template
}

func New() (*Renderer, error) {
	r := &Renderer{pages: map[View]*template.Template{}}
	for _, v := range []View{Homepage, ConfigureWizard, WifiConfig, ServerConfig, DriverList, RemoteConnect, SixPaymentTerminal} {
		t, err := template.New(string(v)).ParseFS(templateFS, "templates/layout.html", "templates/"+string(v))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", v, err)
		}
		r.pages[v] = t
	}
	return r, nil
}

func (r *Renderer) Render(v View, data any) ([]byte, error) {
	t, ok := r.pages[v]
	if !ok {
		return nil, fmt.Errorf("unknown view %q", v)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, string(v), data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// escaped marks scan results as markup; they are HTML-escaped when read.
func escaped(ssids []string) []template.HTML {
	out := make([]template.HTML, len(ssids))
	for i, s := range ssids {
		out[i] = template.HTML(s) //nolint:gosec
	}
	return out
}

func Home(s provision.Status) HomePage {
	return HomePage{Layout: Layout{Title: "Odoo's IoT Box", Breadcrumb: "Status"}, Status: s}
}

func Wizard(w provision.Wizard) WizardPage {
	return WizardPage{
		Layout:   Layout{Title: w.Title, Breadcrumb: "Configure IoT Box", LoadingMessage: "Configuring your IoT Box"},
		Hostname: w.Hostname,
		Server:   w.Server,
		SSIDs:    escaped(w.SSIDs),
	}
}

func Wifi(ssids []string) WifiPage {
	return WifiPage{
		Layout: Layout{Title: "Wifi configuration", Breadcrumb: "Configure Wifi", LoadingMessage: "Connecting to Wifi"},
		SSIDs:  escaped(ssids),
	}
}

func Server(hostname, server string) ServerPage {
	if server == "" {
		server = "Not configured yet"
	}
	return ServerPage{
		Layout:       Layout{Title: "IoT -> Odoo server configuration", Breadcrumb: "Configure Odoo Server", LoadingMessage: "Configure Domain Server"},
		Hostname:     hostname,
		ServerStatus: server,
	}
}

func Drivers(names []string, server string) DriversPage {
	return DriversPage{
		Layout:  Layout{Title: "Odoo's IoT Box - Drivers list", Breadcrumb: "Drivers list"},
		Drivers: names,
		Server:  server,
	}
}

func Remote() Layout {
	return Layout{Title: "Remote debugging", Breadcrumb: "Remote Debugging"}
}

func SixTerminal(id string) SixTerminalPage {
	return SixTerminalPage{Layout: Layout{Title: "Six Payment Terminal", Breadcrumb: "Six Payment Terminal"}, TerminalID: id}
}
