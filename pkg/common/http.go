package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the build version embedded in the binary.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent is sent on every request to the Indra cloud.
func UserAgent() string {
	return "IndraV2H/" + Version()
}

type headerTransport struct {
	transport http.RoundTripper
	headers   http.Header
}

// RoundTrip sets the default headers on a clone of the request so the
// caller's request is never mutated.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header[k] = v
		}
	}
	return t.transport.RoundTrip(req)
}

// HTTPClient returns an http client that identifies itself with UserAgent and
// asks for JSON unless the request says otherwise.
func HTTPClient(timeout time.Duration) *http.Client {
	return WrapClient(&http.Client{Transport: http.DefaultTransport}, timeout)
}

// WrapClient installs the default headers on top of an existing client's
// transport. It is used by tests to keep httptest's TLS transport.
func WrapClient(c *http.Client, timeout time.Duration) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	h := http.Header{}
	h.Set("User-Agent", UserAgent())
	h.Set("Accept", "application/json")
	return &http.Client{
		Transport: &headerTransport{
			transport: base,
			headers:   h,
		},
		Timeout: timeout,
	}
}
