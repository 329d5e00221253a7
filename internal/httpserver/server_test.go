package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrSnakeDoc/relayswitch/internal/domain"
	"github.com/MrSnakeDoc/relayswitch/internal/engine"
	"github.com/MrSnakeDoc/relayswitch/internal/history"
	"github.com/MrSnakeDoc/relayswitch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relayswitch/internal/logger"
	"github.com/MrSnakeDoc/relayswitch/internal/metrics"
)

type brokenBackend struct{}

func (brokenBackend) Name() string                        { return "redis" }
func (brokenBackend) Size(context.Context) (int64, error) { return 0, errors.New("connection refused") }

func newTestDeps(t *testing.T) (deps.Deps, *engine.Engine) {
	t.Helper()
	backend := history.NewFileBackend(filepath.Join(t.TempDir(), history.DefaultFileName))
	eng := engine.New(history.NewStore(backend, logger.Nop()))

	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, obs := range []domain.Observation{
		{Relay: "A", Service: "netflix", Group: "HK", Success: true},
		{Relay: "A", Service: "netflix", Group: "HK", Success: true},
		{Relay: "B", Service: "netflix", Group: "HK", Success: false},
	} {
		obs.At = at.Add(time.Duration(i) * time.Minute)
		eng.RecordObservation(ctx, obs)
	}

	return deps.Deps{
		Logger:    logger.Nop(),
		StartTime: time.Now(),
		Version:   "test",
		Engine:    eng,
		Backend:   backend,
		Metrics:   metrics.New(),
	}, eng
}

func serve(t *testing.T, d deps.Deps, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	NewRouter(d).ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	d, _ := newTestDeps(t)

	if rec := serve(t, d, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("/healthz = %d %s", rec.Code, rec.Body)
	}
	if rec := serve(t, d, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"backend":"file"`) {
		t.Errorf("/readyz = %d %s", rec.Code, rec.Body)
	}

	d.Backend = brokenBackend{}
	if rec := serve(t, d, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz with a broken backend = %d, want 503", rec.Code)
	}

	rec := serve(t, d, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("/metrics = %d", rec.Code)
	}
}

func TestStatsAndSummary(t *testing.T) {
	d, _ := newTestDeps(t)

	rec := serve(t, d, http.MethodGet, "/api/stats/HK/netflix", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/api/stats = %d", rec.Code)
	}
	var stats struct {
		TotalNodes       int     `json:"total_nodes"`
		TotalChecks      int     `json:"total_checks"`
		MostReliableNode *string `json:"most_reliable_node"`
		Rankings         []struct {
			Node string `json:"node"`
		} `json:"reliability_rankings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalNodes != 2 || stats.TotalChecks != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.MostReliableNode == nil || *stats.MostReliableNode != "A" || stats.Rankings[0].Node != "A" {
		t.Errorf("most reliable = %v, rankings = %+v", stats.MostReliableNode, stats.Rankings)
	}

	rec = serve(t, d, http.MethodGet, "/api/stats/HK/unknown", "")
	if !strings.Contains(rec.Body.String(), `"most_reliable_node":null`) {
		t.Errorf("empty stats body = %s", rec.Body)
	}

	rec = serve(t, d, http.MethodGet, "/api/summary", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total_services":1`) {
		t.Errorf("/api/summary = %d %s", rec.Code, rec.Body)
	}
}

func TestHistory(t *testing.T) {
	d, _ := newTestDeps(t)

	var recs []struct {
		Node   string `json:"node_name"`
		Status string `json:"status"`
	}
	rec := serve(t, d, http.MethodGet, "/api/history/HK/netflix", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Node != "B" || recs[0].Status != "failed" {
		t.Errorf("history = %+v, want B first", recs)
	}

	rec = serve(t, d, http.MethodGet, "/api/history/HK/netflix?relay=A", "")
	recs = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Node != "A" {
		t.Errorf("filtered history = %+v", recs)
	}
}

func TestRecommend(t *testing.T) {
	d, _ := newTestDeps(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantNode string // "" means null
	}{
		{"best known", `{"group":"HK","service":"netflix","available":["B","A"]}`, http.StatusOK, "A"},
		{"skips current", `{"group":"HK","service":"netflix","available":["A","C"],"current":"A"}`, http.StatusOK, "C"},
		{"nothing available", `{"group":"HK","service":"netflix","available":[]}`, http.StatusOK, ""},
		{"missing group", `{"service":"netflix","available":["A"]}`, http.StatusBadRequest, ""},
		{"unknown field", `{"group":"HK","service":"netflix","nodes":["A"]}`, http.StatusBadRequest, ""},
		{"not json", `nope`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, d, http.MethodPost, "/api/recommend", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d (%s), want %d", rec.Code, rec.Body, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp struct {
				Node       *string `json:"node"`
				Candidates []any   `json:"candidates"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			got := ""
			if resp.Node != nil {
				got = *resp.Node
			}
			if got != tt.wantNode {
				t.Errorf("node = %q, want %q", got, tt.wantNode)
			}
		})
	}
}

func TestPrune(t *testing.T) {
	d, _ := newTestDeps(t)

	if rec := serve(t, d, http.MethodPost, "/api/prune", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("prune without scheduler = %d, want 503", rec.Code)
	}

	pending := false
	d.PruneTrigger = func() bool {
		if pending {
			return false
		}
		pending = true
		return true
	}
	if rec := serve(t, d, http.MethodPost, "/api/prune", ""); rec.Code != http.StatusAccepted {
		t.Errorf("first prune = %d, want 202", rec.Code)
	}
	if rec := serve(t, d, http.MethodPost, "/api/prune", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second prune = %d, want 429", rec.Code)
	}
}

func TestAllowedCIDRs(t *testing.T) {
	d, _ := newTestDeps(t)
	d.AllowedCIDRS = []string{"10.0.0.0/8"}

	// httptest requests come from 192.0.2.1.
	if rec := serve(t, d, http.MethodGet, "/api/summary", ""); rec.Code != http.StatusForbidden {
		t.Errorf("/api/summary from outside = %d, want 403", rec.Code)
	}
	if rec := serve(t, d, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("/healthz should stay open, got %d", rec.Code)
	}

	d.AllowedCIDRS = []string{"192.0.2.0/24"}
	if rec := serve(t, d, http.MethodGet, "/api/summary", ""); rec.Code != http.StatusOK {
		t.Errorf("/api/summary from inside = %d, want 200", rec.Code)
	}
}
