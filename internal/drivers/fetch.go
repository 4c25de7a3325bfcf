package drivers

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FetchPath is the endpoint on the bound server that serves the driver archive.
const FetchPath = "/iot/get_drivers"

const maxArchiveSize = 64 << 20

// Fetcher downloads the driver archive assigned to a box.
type Fetcher struct {
	HTTP *http.Client
}

// NewFetcher builds a fetcher bounded by timeout. Boxes talk to servers with
// self-signed certificates, so verification can be turned off.
func NewFetcher(timeout time.Duration, insecureTLS bool) *Fetcher {
	return &Fetcher{
		HTTP: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureTLS}, //nolint:gosec
			},
		},
	}
}

// FetchError is any network or server failure while fetching the archive.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetch posts the box MAC as form field "mac" and returns the archive bytes.
// An empty body means the server has nothing for this box.
func (f *Fetcher) Fetch(ctx context.Context, server, mac string) ([]byte, error) {
	target := strings.TrimRight(server, "/") + FetchPath
	form := url.Values{"mac": {mac}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := f.HTTP.Do(req)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))
		return nil, &FetchError{URL: target, Status: res.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxArchiveSize+1))
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	if len(body) > maxArchiveSize {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("archive larger than %d bytes", maxArchiveSize)}
	}
	return body, nil
}
