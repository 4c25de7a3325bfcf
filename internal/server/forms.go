package server

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gorilla/schema"

	"iotbox/boxd/internal/provision"
)

type wifiForm struct {
	ESSID      string `schema:"essid,required"`
	Password   string `schema:"password"`
	Persistent bool   `schema:"persistent"`
}

type serverForm struct {
	Token   string `schema:"token,required"`
	IoTName string `schema:"iotname"`
}

type stepForm struct {
	Token      string `schema:"token"`
	IoTName    string `schema:"iotname"`
	ESSID      string `schema:"essid"`
	Password   string `schema:"password"`
	Persistent bool   `schema:"persistent"`
}

type tunnelForm struct {
	AuthToken string `schema:"auth_token,required"`
}

type terminalForm struct {
	TerminalID string `schema:"terminal_id,required"`
}

func newDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	d.RegisterConverter(false, func(s string) reflect.Value {
		return reflect.ValueOf(truthy(s))
	})
	return d
}

// truthy follows the browser checkbox convention: any non-empty value except
// an explicit negative is true.
func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "off", "no":
		return false
	}
	return true
}

// decodeForm reads query and body parameters into dst. Missing required
// fields become a ConfigurationError.
func decodeForm(d *schema.Decoder, r *http.Request, dst any) error {
	if err := r.ParseForm(); err != nil {
		return &provision.ConfigurationError{Field: "form", Reason: err.Error()}
	}
	if err := d.Decode(dst, r.Form); err != nil {
		field := "form"
		var multi schema.MultiError
		if errors.As(err, &multi) {
			for k := range multi {
				field = k
				break
			}
		}
		return &provision.ConfigurationError{Field: field, Reason: err.Error()}
	}
	return nil
}
