package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

const deviceListSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["identifier", "name"],
    "properties": {
      "identifier": {"type": "string"},
      "name": {"type": "string"},
      "type": {"type": "string"},
      "message": {"type": "string"}
    }
  }
}`

const proxyStatusSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "required": ["status"],
    "properties": {
      "status": {"type": "string"},
      "messages": {"type": "array", "items": {"type": "string"}}
    }
  }
}`

var (
	deviceSchema = mustSchema(deviceListSchema)
	proxySchema  = mustSchema(proxyStatusSchema)
)

func mustSchema(s string) *gojsonschema.Schema {
	sc, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return sc
}

// Client talks to the local driver subsystem over HTTP. It implements both
// DeviceRegistry and ProxyRegistry.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// HTTPError is a non-2xx answer from the driver subsystem.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("driver api: status %d: %s", e.Status, e.Body) }

func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	if err := c.getValidated(ctx, "/hw_drivers/devices", deviceSchema, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ProxyStatuses(ctx context.Context) (map[string]ProxyStatus, error) {
	out := map[string]ProxyStatus{}
	if err := c.getValidated(ctx, "/hw_proxy/status_json", proxySchema, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getValidated(ctx context.Context, path string, schema *gojsonschema.Schema, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		return &HTTPError{Status: res.StatusCode, Body: string(body)}
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid %s payload: %s", path, strings.Join(msgs, "; "))
	}
	return json.Unmarshal(body, v)
}
