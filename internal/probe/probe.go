// Package probe checks whether a streaming or AI service is reachable and
// unlocked through the relay-group's proxy egress.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Outcome is the tri-state verdict of a probe.
type Outcome int

const (
	// Indeterminate covers network errors, unexpected pages and unknown
	// services.
	Indeterminate Outcome = iota
	Unlocked
	Blocked
)

func (o Outcome) String() string {
	switch o {
	case Unlocked:
		return "unlocked"
	case Blocked:
		return "blocked"
	default:
		return "indeterminate"
	}
}

// Result is the verdict for one service.
type Result struct {
	Service string
	Outcome Outcome
	// Detail is a short human readable status.
	Detail string
	// Region is the egress region reported by the service, when known.
	Region string
}

// OK reports whether the service is unlocked.
func (r Result) OK() bool { return r.Outcome == Unlocked }

func (r Result) String() string {
	s := r.Service + ": " + r.Detail
	if r.Region != "" {
		s += " (" + r.Region + ")"
	}
	return s
}

// ErrUnknownService is returned for a service without a checker.
var ErrUnknownService = errors.New("unknown service")

// Prober runs a service check.
type Prober interface {
	Probe(ctx context.Context, service string) (Result, error)
}

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
	maxBodyBytes     = 4 << 20
)

// Options configures an HTTPProber.
type Options struct {
	// ProxyURL is the HTTP proxy every check goes through, ex:
	// "http://127.0.0.1:7890". Empty means direct.
	ProxyURL  string
	Timeout   time.Duration
	UserAgent string
	// Transport replaces the proxy transport. Used by tests.
	Transport http.RoundTripper
}

// HTTPProber checks services over HTTP.
type HTTPProber struct {
	client    *http.Client // does not follow redirects
	follow    *http.Client
	userAgent string
}

// New builds a prober from opts.
func New(opts Options) (*HTTPProber, error) {
	rt := opts.Transport
	if rt == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.Proxy = nil
		if opts.ProxyURL != "" {
			u, err := url.Parse(opts.ProxyURL)
			if err != nil || u.Host == "" {
				return nil, fmt.Errorf("invalid proxy url %q", opts.ProxyURL)
			}
			tr.Proxy = http.ProxyURL(u)
		}
		rt = tr
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &HTTPProber{
		client: &http.Client{
			Transport: rt,
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		follow:    &http.Client{Transport: rt, Timeout: timeout},
		userAgent: ua,
	}, nil
}

// Probe runs the checker registered for service or one of its aliases.
func (p *HTTPProber) Probe(ctx context.Context, service string) (Result, error) {
	name, ok := Normalize(service)
	if !ok {
		return Result{Service: service, Outcome: Indeterminate, Detail: "unknown service"},
			fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	res := checkers[name](ctx, p)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// ProbeN probes service n times, pausing between attempts, and stops at
// the first result that is not unlocked.
func ProbeN(ctx context.Context, p Prober, service string, n int, pause time.Duration) (Result, error) {
	if n < 1 {
		n = 1
	}
	var res Result
	for i := 0; i < n; i++ {
		var err error
		res, err = p.Probe(ctx, service)
		if err != nil {
			return res, err
		}
		if !res.OK() {
			if n > 1 {
				res.Detail = fmt.Sprintf("attempt %d/%d: %s", i+1, n, res.Detail)
			}
			return res, nil
		}
		if i < n-1 {
			if err := sleep(ctx, pause); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Normalize maps a service name or alias to its canonical name.
func Normalize(service string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(service))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	_, ok := checkers[key]
	return key, ok
}

// Services lists the canonical service names, sorted.
func Services() []string {
	out := make([]string, 0, len(checkers))
	for name := range checkers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var aliases = map[string]string{
	"bilibili_cn":  "bilibili_mainland",
	"bilibili_hk":  "bilibili_hk_mc_tw",
	"openai":       "chatgpt",
	"youtube":      "youtube_premium",
	"bahamut":      "bahamut_anime",
	"prime":        "prime_video",
	"amazon_prime": "prime_video",
}

type response struct {
	status int
	header http.Header
	body   []byte
}

type getOptions struct {
	follow  bool
	headers map[string]string
}

func (p *HTTPProber) get(ctx context.Context, rawURL string, opts getOptions) (response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	for k, v := range opts.headers {
		req.Header.Set(k, v)
	}

	client := p.client
	if opts.follow {
		client = p.follow
	}
	resp, err := client.Do(req)
	if err != nil {
		return response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, err
	}
	return response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

// getOK is get that treats any non-2xx status as an error.
func (p *HTTPProber) getOK(ctx context.Context, rawURL string, opts getOptions) (response, error) {
	resp, err := p.get(ctx, rawURL, opts)
	if err != nil {
		return resp, err
	}
	if resp.status < 200 || resp.status > 299 {
		return resp, fmt.Errorf("HTTP %d", resp.status)
	}
	return resp, nil
}
