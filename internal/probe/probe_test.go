package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// hostRouter answers every request in-process, dispatching on host and
// path, so the checkers run against their real URLs.
type hostRouter map[string]http.HandlerFunc

func (h hostRouter) RoundTrip(req *http.Request) (*http.Response, error) {
	handler, ok := h[req.URL.Host+req.URL.Path]
	if !ok {
		handler, ok = h[req.URL.Host]
	}
	if !ok {
		return nil, errors.New("connection refused")
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func body(status int, text string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(text))
	}
}

func newTestProber(t *testing.T, routes hostRouter) *HTTPProber {
	t.Helper()
	p, err := New(Options{Transport: routes, Timeout: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestProbeServices(t *testing.T) {
	tests := []struct {
		name    string
		service string
		routes  hostRouter
		want    Outcome
		region  string
	}{
		{"bilibili unlocked", "bilibili_cn", hostRouter{"api.bilibili.com": body(200, `{"code":0}`)}, Unlocked, ""},
		{"bilibili blocked", "bilibili_hk", hostRouter{"api.bilibili.com": body(200, `{"code":-10403}`)}, Blocked, ""},
		{"bilibili odd code", "bilibili_mainland", hostRouter{"api.bilibili.com": body(200, `{"code":-400}`)}, Indeterminate, ""},
		{"bilibili http error", "bilibili_mainland", hostRouter{"api.bilibili.com": body(500, ``)}, Indeterminate, ""},
		{"gemini unlocked", "gemini", hostRouter{"gemini.google.com": body(200, `...45631641,null,true...,2,1,200,"USA"`)}, Unlocked, "USA"},
		{"gemini blocked", "Gemini", hostRouter{"gemini.google.com": body(200, `<html>nothing</html>`)}, Blocked, ""},
		{"youtube unlocked", "youtube", hostRouter{"www.youtube.com": body(200, `Ad-free <span id="country-code">JP</span>`)}, Unlocked, "JP"},
		{"youtube blocked", "youtube_premium", hostRouter{"www.youtube.com": body(200, `YouTube Premium is not available in your country`)}, Blocked, ""},
		{"youtube unexpected", "youtube", hostRouter{"www.youtube.com": body(200, `consent page`)}, Indeterminate, ""},
		{"prime unlocked", "amazon_prime", hostRouter{"www.primevideo.com": body(200, `{"currentTerritory":"DE"}`)}, Unlocked, "DE"},
		{"prime restricted", "prime", hostRouter{"www.primevideo.com": body(200, `isServiceRestricted`)}, Blocked, ""},
		{"network error", "prime_video", hostRouter{}, Indeterminate, ""},
		{"bahamut unlocked", "bahamut", hostRouter{
			"ani.gamer.com.tw/ajax/getdeviceid.php": body(200, `{"deviceid":"abc"}`),
			"ani.gamer.com.tw/ajax/token.php":       body(200, `{"animeSn":37783}`),
			"ani.gamer.com.tw/":                     body(200, `<div data-geo="TW">`),
		}, Unlocked, "TW"},
		{"bahamut blocked", "bahamut_anime", hostRouter{
			"ani.gamer.com.tw/ajax/getdeviceid.php": body(200, `{"deviceid":"abc"}`),
			"ani.gamer.com.tw/ajax/token.php":       body(200, `{"error":{"code":1011}}`),
		}, Blocked, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProber(t, tt.routes)
			res, err := p.Probe(context.Background(), tt.service)
			if err != nil {
				t.Fatalf("Probe() error = %v", err)
			}
			if res.Outcome != tt.want {
				t.Errorf("Outcome = %s (%s), want %s", res.Outcome, res.Detail, tt.want)
			}
			if res.Region != tt.region {
				t.Errorf("Region = %q, want %q", res.Region, tt.region)
			}
		})
	}
}

func TestProbeChatGPT(t *testing.T) {
	trace := body(200, "ip=1.2.3.4\nloc=SG\n")
	tests := []struct {
		name   string
		routes hostRouter
		want   Outcome
	}{
		{"web ok", hostRouter{
			"chat.openai.com":     trace,
			"api.openai.com":      body(200, `{"cookieConsent":false}`),
			"ios.chat.openai.com": body(200, `sorry, you have been blocked`),
		}, Unlocked},
		{"ios ok", hostRouter{
			"ios.chat.openai.com": body(200, `Request is not allowed. Please try again later.`),
			"api.openai.com":      body(200, `unsupported_country`),
		}, Unlocked},
		{"both blocked", hostRouter{
			"chat.openai.com":     trace,
			"ios.chat.openai.com": body(200, `You may be connected to a disallowed ISP`),
			"api.openai.com":      body(200, `{"unsupported_country": true}`),
		}, Blocked},
		{"unreachable", hostRouter{}, Indeterminate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestProber(t, tt.routes).Probe(context.Background(), "openai")
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != tt.want {
				t.Errorf("Outcome = %s (%s), want %s", res.Outcome, res.Detail, tt.want)
			}
		})
	}
}

func TestProbeNetflix(t *testing.T) {
	tests := []struct {
		name   string
		routes hostRouter
		want   Outcome
		region string
	}{
		{"cdn api", hostRouter{
			"api.fast.com": body(200, `{"targets":[{"location":{"country":"HK"}}]}`),
		}, Unlocked, "HK"},
		{"cdn banned", hostRouter{"api.fast.com": body(403, ``)}, Blocked, ""},
		{"originals only", hostRouter{
			"www.netflix.com": body(404, ``),
		}, Blocked, ""},
		{"full catalogue with region", hostRouter{
			"www.netflix.com/title/81280792": body(200, ``),
			"www.netflix.com/title/70143836": body(200, ``),
			"www.netflix.com/title/80018499": func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Location", "https://www.netflix.com/jp-en/title/80018499")
				w.WriteHeader(http.StatusFound)
			},
		}, Unlocked, "JP"},
		{"full catalogue default region", hostRouter{
			"www.netflix.com/title/81280792": body(200, ``),
			"www.netflix.com/title/70143836": body(404, ``),
			"www.netflix.com/title/80018499": body(200, ``),
		}, Unlocked, "US"},
		{"forbidden", hostRouter{
			"www.netflix.com/title/81280792": body(403, ``),
			"www.netflix.com/title/70143836": body(200, ``),
		}, Blocked, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestProber(t, tt.routes).Probe(context.Background(), "netflix")
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != tt.want || res.Region != tt.region {
				t.Errorf("got %s/%q (%s), want %s/%q", res.Outcome, res.Region, res.Detail, tt.want, tt.region)
			}
		})
	}
}

func TestProbeUnknownService(t *testing.T) {
	p := newTestProber(t, hostRouter{})
	res, err := p.Probe(context.Background(), "disney_plus")
	if !errors.Is(err, ErrUnknownService) {
		t.Errorf("error = %v, want ErrUnknownService", err)
	}
	if res.Outcome != Indeterminate {
		t.Errorf("Outcome = %s, want indeterminate", res.Outcome)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		" OpenAI ":     "chatgpt",
		"bilibili_cn":  "bilibili_mainland",
		"youtube":      "youtube_premium",
		"amazon_prime": "prime_video",
		"netflix":      "netflix",
	}
	for in, want := range tests {
		got, ok := Normalize(in)
		if !ok || got != want {
			t.Errorf("Normalize(%q) = %q, %v, want %q", in, got, ok, want)
		}
	}
	if _, ok := Normalize("hulu"); ok {
		t.Error("Normalize(hulu) should fail")
	}
	if n := len(Services()); n != 8 {
		t.Errorf("Services() = %d, want 8", n)
	}
}

func TestNewRejectsBadProxy(t *testing.T) {
	if _, err := New(Options{ProxyURL: "::not a url"}); err == nil {
		t.Error("New() with an invalid proxy should fail")
	}
	if _, err := New(Options{ProxyURL: "http://127.0.0.1:7890"}); err != nil {
		t.Errorf("New() error = %v", err)
	}
}

// scripted returns canned outcomes in order.
type scripted struct {
	outcomes []Outcome
	calls    int
}

func (s *scripted) Probe(_ context.Context, service string) (Result, error) {
	o := s.outcomes[s.calls%len(s.outcomes)]
	s.calls++
	return Result{Service: service, Outcome: o, Detail: o.String()}, nil
}

func TestProbeN(t *testing.T) {
	ctx := context.Background()

	all := &scripted{outcomes: []Outcome{Unlocked}}
	if res, err := ProbeN(ctx, all, "netflix", 3, 0); err != nil || !res.OK() || all.calls != 3 {
		t.Errorf("ProbeN() = %+v, %v after %d calls", res, err, all.calls)
	}

	second := &scripted{outcomes: []Outcome{Unlocked, Blocked, Unlocked}}
	res, err := ProbeN(ctx, second, "netflix", 3, 0)
	if err != nil || res.OK() || second.calls != 2 {
		t.Errorf("ProbeN() = %+v, %v after %d calls, want stop at 2", res, err, second.calls)
	}
	if !strings.HasPrefix(res.Detail, "attempt 2/3") {
		t.Errorf("Detail = %q", res.Detail)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := ProbeN(cancelled, &scripted{outcomes: []Outcome{Unlocked}}, "netflix", 2, time.Hour); err == nil {
		t.Error("ProbeN() should stop on a cancelled context")
	}
}
