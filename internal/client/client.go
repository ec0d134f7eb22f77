// Package client is the Go-side of the eda2d JSON API, used by the
// command line tool and the monitoring plugin.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"eda2power/internal/server"
)

// DefaultPort is the eda2d control port.
const DefaultPort = 19999

// defaultTimeout bounds a single API call. Switching a full bank takes
// 16 stagger intervals, so this is generous rather than snappy.
const defaultTimeout = 30 * time.Second

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client talks to one eda2d instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option adjusts a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New returns a Client for the daemon at host:port.
func New(host string, port int, token string, opts ...Option) *Client {
	if port <= 0 {
		port = DefaultPort
	}
	c := &Client{
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewURL returns a Client for an explicit base URL, mainly for tests.
func NewURL(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call performs one API request. A non-nil out receives the decoded
// 2xx body. The returned status lets callers distinguish 200 from 202.
func (c *Client) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr server.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// Ping checks that the daemon is up. No auth required.
func (c *Client) Ping(ctx context.Context) error {
	var resp server.PingResponse
	if _, err := c.call(ctx, http.MethodGet, "/api/v1/ping", nil, &resp); err != nil {
		return err
	}
	if !resp.Pong {
		return fmt.Errorf("unexpected ping reply")
	}
	return nil
}

// Version returns the daemon version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp server.VersionResponse
	if _, err := c.call(ctx, http.MethodGet, "/api/v1/version", nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// TurnOn switches the named outputs on. Specs are expanded daemon-side.
func (c *Client) TurnOn(ctx context.Context, specs []string) ([]SwitchResult, error) {
	return c.switchCall(ctx, "/api/v1/outputs/on", specs)
}

// TurnOff switches the named outputs off.
func (c *Client) TurnOff(ctx context.Context, specs []string) ([]SwitchResult, error) {
	return c.switchCall(ctx, "/api/v1/outputs/off", specs)
}

func (c *Client) switchCall(ctx context.Context, path string, specs []string) ([]SwitchResult, error) {
	var resp server.SwitchResponse
	_, err := c.call(ctx, http.MethodPost, path, server.SwitchRequest{Outputs: specs}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]SwitchResult, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = SwitchResult{Output: r.Output, OK: r.OK, Error: r.Error}
	}
	return out, nil
}

// State reports the commanded switch state of the named outputs.
func (c *Client) State(ctx context.Context, specs []string) (map[string]bool, error) {
	var resp server.StateResponse
	_, err := c.call(ctx, http.MethodPost, "/api/v1/outputs/state", server.SwitchRequest{Outputs: specs}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.States, nil
}

// AllOn switches every switchable output on.
func (c *Client) AllOn(ctx context.Context) ([]SwitchResult, error) {
	var resp server.SwitchResponse
	_, err := c.call(ctx, http.MethodPost, "/api/v1/outputs/all/on", nil, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]SwitchResult, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = SwitchResult{Output: r.Output, OK: r.OK, Error: r.Error}
	}
	return out, nil
}

// AllOff switches every output off, locked ones included.
func (c *Client) AllOff(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodPost, "/api/v1/outputs/all/off", nil, nil)
	return err
}

// Status returns the sense snapshot for all 32 outputs.
func (c *Client) Status(ctx context.Context) (map[string]Reading, error) {
	var resp server.StatusResponse
	if _, err := c.call(ctx, http.MethodGet, "/api/v1/outputs", nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]Reading, len(resp.Outputs))
	for n, r := range resp.Outputs {
		out[n] = Reading{On: r.On, Volts: r.Volts, MilliAmps: r.MilliAmps}
	}
	return out, nil
}

// Environment returns the enclosure climate.
func (c *Client) Environment(ctx context.Context) (*Environment, error) {
	var resp server.EnvironmentResponse
	if _, err := c.call(ctx, http.MethodGet, "/api/v1/environment", nil, &resp); err != nil {
		return nil, err
	}
	return &Environment{Humidity: resp.Humidity, Temperature: resp.Temperature}, nil
}

// History returns up to limit archived samples, newest first. limit 0
// takes the daemon default.
func (c *Client) History(ctx context.Context, limit int) (*HistoryPage, error) {
	path := "/api/v1/telemetry/recent"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp server.TelemetryResponse
	if _, err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &HistoryPage{Readings: resp.Readings, Environment: resp.Environment}, nil
}

// Reboot asks the daemon to reboot its host. Called with an empty
// token it returns the confirmation challenge; called with the
// challenge token it executes and returns nil.
func (c *Client) Reboot(ctx context.Context, confirmToken string) (*Confirmation, error) {
	return c.systemCall(ctx, "/api/v1/system/reboot", confirmToken)
}

// Shutdown asks the daemon to halt its host. Same two-step flow as
// Reboot.
func (c *Client) Shutdown(ctx context.Context, confirmToken string) (*Confirmation, error) {
	return c.systemCall(ctx, "/api/v1/system/shutdown", confirmToken)
}

func (c *Client) systemCall(ctx context.Context, path, confirmToken string) (*Confirmation, error) {
	var resp struct {
		server.ConfirmationResponse
		server.OKResponse
	}
	status, err := c.call(ctx, http.MethodPost, path, server.SystemRequest{ConfirmToken: confirmToken}, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		return &Confirmation{Token: resp.ConfirmToken, Warning: resp.Warning}, nil
	}
	return nil, nil
}
