package ambisense

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ambisense/pkg/device"
)

// DefaultTimeout bounds every request to the device.
const DefaultTimeout = 5 * time.Second

// maxBody caps how much of a device response is read.
const maxBody = 64 << 10

// Client talks to the AmbiSense firmware web interface.
// It is a pure transport: values are sent as given and never validated here.
type Client struct {
	host       string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for the device at host. host may be a bare
// hostname or IP, host:port, or a full http:// base URL.
func NewClient(host string, opts ...Option) *Client {
	base := strings.TrimRight(host, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	c := &Client{
		host:       host,
		baseURL:    base,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Host returns the configured device host.
func (c *Client) Host() string {
	return c.host
}

// Close closes idle connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// get performs a GET against the device and returns the body of a 2xx reply.
// Transport failures and timeouts wrap device.ErrDeviceUnreachable; any other
// status is returned as a *device.RejectedError.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", device.ErrDeviceUnreachable, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", device.ErrDeviceUnreachable, path, err)
	}

	log.Debug().
		Str("host", c.host).
		Str("path", path).
		Str("query", query.Encode()).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("device request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &device.RejectedError{
			Endpoint: path,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}

// Distance returns the live radar distance reading in centimeters.
func (c *Client) Distance(ctx context.Context) (int, error) {
	body, err := c.get(ctx, "/distance", nil)
	if err != nil {
		return 0, unreachableOnRead(err)
	}
	text := strings.TrimSpace(string(body))
	d, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid distance value %q", device.ErrDeviceUnreachable, text)
	}
	return d, nil
}

// unreachableOnRead folds a refused read into ErrDeviceUnreachable: a read has
// nothing for the device to reject, so any non-2xx reply means the settings
// endpoint is not usable.
func unreachableOnRead(err error) error {
	if rej, ok := err.(*device.RejectedError); ok {
		return fmt.Errorf("%w: %s returned status %d", device.ErrDeviceUnreachable, rej.Endpoint, rej.Status)
	}
	return err
}

// Probe checks that host answers like an AmbiSense device: /settings first,
// then /distance for firmware builds without the settings endpoint.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.Fetch(ctx)
	if err == nil {
		return nil
	}
	log.Debug().Err(err).Str("host", c.host).Msg("Settings probe failed, trying distance")
	if _, err := c.Distance(ctx); err != nil {
		return fmt.Errorf("probe %s: %w", c.host, err)
	}
	return nil
}
