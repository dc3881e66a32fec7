// Package probe tests live reachability of an agent's declared
// endpoint URL and measures response latency for the validation
// report.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single endpoint probe.
const DefaultTimeout = 10 * time.Second

// Config holds probe settings.
type Config struct {
	// Timeout bounds the probe request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// AllowInsecure permits http:// endpoints and skips TLS
	// verification (dev environments only).
	AllowInsecure bool
}

// Result describes the outcome of probing one endpoint.
type Result struct {
	Tested      bool   `json:"tested"`
	Reachable   bool   `json:"reachable"`
	EndpointURL string `json:"endpointUrl,omitempty"`
	StatusCode  int    `json:"statusCode,omitempty"`
	LatencyMS   int64  `json:"latencyMs,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Endpoint issues a single GET against the agent's URL. Any HTTP
// response counts as reachable; only transport-level failures do not.
// Server errors (5xx) are reported via StatusCode so the caller can
// downgrade the availability score.
func Endpoint(ctx context.Context, endpointURL string, cfg Config) Result {
	res := Result{Tested: true, EndpointURL: endpointURL}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if !cfg.AllowInsecure && strings.HasPrefix(endpointURL, "http://") {
		res.Error = fmt.Sprintf("insecure HTTP URL not allowed: %s", endpointURL)
		return res
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.AllowInsecure {
		// Keep the default transport's proxy and dial settings.
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit dev-only flag
		client.Transport = transport
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		res.Error = fmt.Sprintf("creating probe request: %v", err)
		return res
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	res.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = fmt.Sprintf("probing endpoint: %v", err)
		return res
	}
	defer resp.Body.Close()

	res.Reachable = true
	res.StatusCode = resp.StatusCode
	return res
}
