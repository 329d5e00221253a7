// Package clash talks to the REST external controller of a Clash
// compatible proxy core.
package clash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "relayswitch"
)

// ErrNoCandidates means a group has no relay to choose from.
var ErrNoCandidates = errors.New("no candidate relays in group")

// StatusError is returned for non-2xx controller responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("clash %s %s: status %d", e.Method, e.Path, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Options configures a Client.
type Options struct {
	// Controller is "host:port" or a full URL.
	Controller string
	// Secret is sent as a bearer token when set.
	Secret  string
	Timeout time.Duration
	// HTTPClient overrides the transport. Used by tests.
	HTTPClient *http.Client
}

// Client is a controller REST client.
type Client struct {
	base   *url.URL
	secret string
	http   *http.Client
}

// Proxy is a proxy or a proxy group as reported by the controller.
type Proxy struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Now     string         `json:"now,omitempty"`
	All     []string       `json:"all,omitempty"`
	Alive   *bool          `json:"alive,omitempty"`
	UDP     bool           `json:"udp,omitempty"`
	History []DelayHistory `json:"history,omitempty"`
}

// DelayHistory is one latency measurement.
type DelayHistory struct {
	Time  time.Time `json:"time"`
	Delay int       `json:"delay"`
}

// NewClient validates opts and builds a client.
func NewClient(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.Controller)
	if raw == "" {
		return nil, errors.New("clash controller address is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid clash controller %q: %w", opts.Controller, err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid clash controller %q: missing host", opts.Controller)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		// The controller is local; never route it through a proxy.
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.Proxy = nil
		hc = &http.Client{Timeout: timeout, Transport: tr}
	}

	return &Client{base: base, secret: opts.Secret, http: hc}, nil
}

// BaseURL returns the controller URL in use.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// GetProxies returns every proxy and group keyed by name.
func (c *Client) GetProxies(ctx context.Context) (map[string]Proxy, error) {
	var out struct {
		Proxies map[string]Proxy `json:"proxies"`
	}
	if err := c.do(ctx, http.MethodGet, "/proxies", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Proxies, nil
}

// GetProxy returns one proxy or group.
func (c *Client) GetProxy(ctx context.Context, name string) (Proxy, error) {
	var p Proxy
	err := c.do(ctx, http.MethodGet, "/proxies/"+url.PathEscape(name), nil, nil, &p)
	return p, err
}

// SelectProxy switches a selector group to relay.
func (c *Client) SelectProxy(ctx context.Context, group, relay string) error {
	body := map[string]string{"name": relay}
	return c.do(ctx, http.MethodPut, "/proxies/"+url.PathEscape(group), nil, body, nil)
}

// Delay asks the controller to measure the latency of a relay to testURL.
func (c *Client) Delay(ctx context.Context, name, testURL string, timeout time.Duration) (int, error) {
	q := url.Values{}
	q.Set("url", testURL)
	q.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))

	var out struct {
		Delay int `json:"delay"`
	}
	if err := c.do(ctx, http.MethodGet, "/proxies/"+url.PathEscape(name)+"/delay", q, nil, &out); err != nil {
		return 0, err
	}
	return out.Delay, nil
}

// Version returns the controller version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
		Meta    bool   `json:"meta"`
	}
	if err := c.do(ctx, http.MethodGet, "/version", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.base
	// The path is already escaped; keep RawPath so names with "/" survive.
	u.RawPath = c.base.EscapedPath() + path
	u.Path, _ = url.PathUnescape(u.RawPath)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("clash %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("clash %s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}
