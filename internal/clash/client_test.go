package clash

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeController serves a fixed set of proxies and records selections.
type fakeController struct {
	mu       sync.Mutex
	secret   string
	proxies  map[string]Proxy
	selected map[string]string
	broken   map[string]bool
}

func newFakeController() *fakeController {
	alive, dead := true, false
	return &fakeController{
		secret: "s3cret",
		proxies: map[string]Proxy{
			"Proxy":    {Name: "Proxy", Type: "Selector", Now: "hk/01", All: []string{"hk/01", "jp 02", "us-03", "sg-04"}},
			"hk/01":    {Name: "hk/01", Type: "Shadowsocks", Alive: &alive},
			"jp 02":    {Name: "jp 02", Type: "Vmess", Alive: &dead},
			"us-03":    {Name: "us-03", Type: "Trojan"},
			"sg-04":    {Name: "sg-04", Type: "Trojan", Alive: &alive},
			"Empty":    {Name: "Empty", Type: "Selector"},
			"AllDead":  {Name: "AllDead", Type: "Selector", All: []string{"jp 02"}},
			"Fallback": {Name: "Fallback", Type: "URLTest", Now: "us-03", All: []string{"us-03"}},
		},
		selected: map[string]string{},
		broken:   map[string]bool{"sg-04": true},
	}
}

func (f *fakeController) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+f.secret {
		http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == "/version":
		_, _ = w.Write([]byte(`{"version":"v1.18.0","meta":true}`))
	case r.URL.Path == "/proxies":
		_ = json.NewEncoder(w).Encode(map[string]any{"proxies": f.proxies})
	case strings.HasSuffix(r.URL.Path, "/delay"):
		if r.URL.Query().Get("timeout") != "5000" {
			http.Error(w, "bad timeout", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"delay":123}`))
	case strings.HasPrefix(r.URL.Path, "/proxies/"):
		name := strings.TrimPrefix(r.URL.Path, "/proxies/")
		p, ok := f.proxies[name]
		if !ok || f.broken[name] {
			http.Error(w, `{"message":"resource not found"}`, http.StatusNotFound)
			return
		}
		if r.Method == http.MethodPut {
			var body struct {
				Name string `json:"name"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.selected[name] = body.Name
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(p)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake *fakeController) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{Controller: srv.URL, Secret: fake.secret, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name       string
		controller string
		wantURL    string
		wantErr    bool
	}{
		{"host and port", "127.0.0.1:9090", "http://127.0.0.1:9090", false},
		{"full url", "https://clash.lan:9443/", "https://clash.lan:9443", false},
		{"empty", "  ", "", true},
		{"no host", "http://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(Options{Controller: tt.controller})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && c.BaseURL() != tt.wantURL {
				t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), tt.wantURL)
			}
		})
	}
}

func TestClientEndpoints(t *testing.T) {
	ctx := context.Background()
	fake := newFakeController()
	c := newTestClient(t, fake)

	v, err := c.Version(ctx)
	if err != nil || v != "v1.18.0" {
		t.Errorf("Version() = %q, %v", v, err)
	}

	all, err := c.GetProxies(ctx)
	if err != nil || len(all) != len(fake.proxies) {
		t.Errorf("GetProxies() = %d proxies, %v", len(all), err)
	}

	p, err := c.GetProxy(ctx, "hk/01")
	if err != nil || p.Type != "Shadowsocks" {
		t.Errorf("GetProxy(hk/01) = %+v, %v", p, err)
	}

	if err := c.SelectProxy(ctx, "Proxy", "us-03"); err != nil {
		t.Fatalf("SelectProxy() error = %v", err)
	}
	fake.mu.Lock()
	selected := fake.selected["Proxy"]
	fake.mu.Unlock()
	if selected != "us-03" {
		t.Errorf("selected = %q, want us-03", selected)
	}

	d, err := c.Delay(ctx, "us-03", "https://www.gstatic.com/generate_204", 5*time.Second)
	if err != nil || d != 123 {
		t.Errorf("Delay() = %d, %v", d, err)
	}
}

func TestClientStatusError(t *testing.T) {
	ctx := context.Background()
	fake := newFakeController()
	c := newTestClient(t, fake)

	_, err := c.GetProxy(ctx, "missing")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("GetProxy(missing) error = %v, want 404 StatusError", err)
	}

	bad, _ := NewClient(Options{Controller: strings.TrimPrefix(c.BaseURL(), "http://"), Secret: "wrong"})
	if _, err := bad.Version(ctx); !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Errorf("Version() with wrong secret error = %v", err)
	}
}

func TestCandidates(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newFakeController())

	all, alive, current, err := Candidates(ctx, c, "Proxy")
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if current != "hk/01" || len(all) != 4 {
		t.Errorf("current = %q, all = %v", current, all)
	}
	// jp 02 is reported dead; sg-04 cannot be fetched and stays.
	want := []string{"hk/01", "us-03", "sg-04"}
	if strings.Join(alive, ",") != strings.Join(want, ",") {
		t.Errorf("alive = %v, want %v", alive, want)
	}

	if _, _, _, err := Candidates(ctx, c, "Empty"); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("Candidates(Empty) error = %v, want ErrNoCandidates", err)
	}
	if _, _, _, err := Candidates(ctx, c, "AllDead"); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("Candidates(AllDead) error = %v, want ErrNoCandidates", err)
	}
	if _, _, _, err := Candidates(ctx, c, "Nope"); err == nil {
		t.Error("Candidates(Nope) should fail")
	}
}
