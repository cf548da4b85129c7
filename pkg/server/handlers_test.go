package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"streamgate/pkg/config"
	"streamgate/pkg/logger"
	"streamgate/pkg/metrics"
	"streamgate/pkg/preload"
	"streamgate/pkg/provider"
	"streamgate/pkg/provider/hosted"
	"streamgate/pkg/proxy"
	"streamgate/pkg/resolver"
	"streamgate/pkg/session"
	"streamgate/pkg/stream"
)

// newTestStack wires a full server over a hosted catalog stub.
func newTestStack(t *testing.T, catalog http.HandlerFunc) *httptest.Server {
	t.Helper()
	logger.Init("ERROR")

	upstream := httptest.NewServer(catalog)
	t.Cleanup(upstream.Close)

	cfg := config.Default()
	cfg.Port = 0
	cfg.BaseURL = "http://gate.example.com"
	cfg.Hosted = config.HostedConfig{Enabled: true, URL: upstream.URL}

	providers := []provider.Provider{
		hosted.NewClient(cfg.Hosted, 5*time.Second),
	}
	res := resolver.New(providers, nil, cfg)
	sessions := session.NewStore(time.Hour, 32)
	m := metrics.New()
	prx := proxy.New(sessions, cfg.Proxy, 5*time.Second, m)

	pre := preload.New(sessions, func(ctx context.Context, key stream.ContentKey) (*session.Session, error) {
		return sessions.ResolveOrGet(ctx, key, func(ctx context.Context) (*session.Session, error) {
			r, err := res.Resolve(ctx, key, "")
			if err != nil {
				return nil, err
			}
			return &session.Session{URL: r.URL, Quality: r.Quality, Format: r.Format, Source: r.Source, HLS: r.HLS}, nil
		})
	}, nil, cfg.Preload)

	srv, err := NewServer(cfg, res, sessions, prx, pre, nil, m)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func catalogWithOneMovie(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/catalog/movie/tt0111161") {
		fmt.Fprint(w, `{"streams":[{"title":"Movie (1994)","url":"https://cdn.example.com/v/1.mp4","quality":"1080p","format":"mp4"}]}`)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func TestResolveSuccess(t *testing.T) {
	ts := newTestStack(t, catalogWithOneMovie)

	resp := postJSON(t, ts.URL+"/resolve", `{"contentId":"tt0111161","type":"movie"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"sessionId"`
		StreamURL string `json:"streamUrl"`
		Stream    struct {
			Quality string `json:"quality"`
			Format  string `json:"format"`
		} `json:"stream"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if len(body.SessionID) != 32 {
		t.Errorf("Expected 32-char session ID, got %q", body.SessionID)
	}
	want := "http://gate.example.com/stream/" + body.SessionID + "/manifest"
	if body.StreamURL != want {
		t.Errorf("Expected stream URL %q, got %q", want, body.StreamURL)
	}
	if body.Stream.Quality != "1080p" || body.Stream.Format != "mp4" {
		t.Errorf("Unexpected stream info: %+v", body.Stream)
	}
}

func TestResolveDeduplicates(t *testing.T) {
	ts := newTestStack(t, catalogWithOneMovie)

	var ids []string
	for i := 0; i < 2; i++ {
		resp := postJSON(t, ts.URL+"/resolve", `{"contentId":"tt0111161","type":"movie"}`)
		var body struct {
			SessionID string `json:"sessionId"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		ids = append(ids, body.SessionID)
	}

	if ids[0] != ids[1] {
		t.Errorf("Repeated resolve must reuse the session: %s vs %s", ids[0], ids[1])
	}
}

func TestResolveNoCandidates(t *testing.T) {
	ts := newTestStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	resp := postJSON(t, ts.URL+"/resolve", `{"contentId":"tt9999999","type":"movie"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for no candidates, got %d", resp.StatusCode)
	}
}

func TestResolveValidation(t *testing.T) {
	ts := newTestStack(t, catalogWithOneMovie)

	cases := []struct {
		name string
		body string
	}{
		{"missing contentId", `{"type":"movie"}`},
		{"unknown type", `{"contentId":"tt1","type":"podcast"}`},
		{"series without episode", `{"contentId":"tt1","type":"series"}`},
		{"movie with episode", `{"contentId":"tt1","type":"movie","season":1,"episode":2}`},
		{"garbage body", `{`},
	}

	for _, tc := range cases {
		resp := postJSON(t, ts.URL+"/resolve", tc.body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, resp.StatusCode)
		}
	}
}

func TestResolveMethodNotAllowed(t *testing.T) {
	ts := newTestStack(t, catalogWithOneMovie)

	resp, err := http.Get(ts.URL + "/resolve")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}

func TestPreloadEndpoint(t *testing.T) {
	ts := newTestStack(t, catalogWithOneMovie)

	resp := postJSON(t, ts.URL+"/preload", `{"items":[{"contentId":"tt0111161","type":"movie"},{"contentId":"tt9999999","type":"movie"}]}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Requested int `json:"requested"`
		Resolved  int `json:"resolved"`
		Failed    int `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if result.Requested != 2 || result.Resolved != 1 || result.Failed != 1 {
		t.Errorf("Unexpected preload result: %+v", result)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestStack(t, catalogWithOneMovie)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestStack(t, catalogWithOneMovie)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestStack(t, catalogWithOneMovie)

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}
