package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"streamgate/pkg/config"
	"streamgate/pkg/logger"
	"streamgate/pkg/session"
	"streamgate/pkg/stream"
)

func newTestProxy(t *testing.T, hosts []string) (*Proxy, *session.Store) {
	t.Helper()
	logger.Init("ERROR")
	store := session.NewStore(time.Hour, 16)
	p := New(store, config.ProxyConfig{
		AllowedStreamHosts:   hosts,
		ManifestCacheSeconds: 5,
	}, 5*time.Second, nil)
	return p, store
}

func addSession(t *testing.T, store *session.Store, url string, hls bool) *session.Session {
	t.Helper()
	sess, err := store.ResolveOrGet(context.Background(),
		stream.ContentKey{ContentID: "tt0000001", Type: stream.TypeMovie},
		func(ctx context.Context) (*session.Session, error) {
			return &session.Session{URL: url, HLS: hls}, nil
		})
	if err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}
	return sess
}

func TestServeSegmentUnknownSession(t *testing.T) {
	p, _ := newTestProxy(t, []string{"cdn.example.com"})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/stream/nope/segment?u=https%3A%2F%2Fcdn.example.com%2Fs.ts", nil)
	p.ServeSegment(w, r, "nope")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", w.Code)
	}
}

func TestServeSegmentAllowedHost(t *testing.T) {
	p, store := newTestProxy(t, []string{"cdn.example.com"})
	sess := addSession(t, store, "https://cdn.example.com/m.m3u8", true)

	target := "https://cdn.example.com/seg/0001.ts"
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/stream/"+sess.ID+"/segment?u="+url.QueryEscape(target), nil)
	p.ServeSegment(w, r, sess.ID)

	if w.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != target {
		t.Errorf("Expected redirect to %q, got %q", target, got)
	}
}

func TestServeSegmentSubdomainAllowed(t *testing.T) {
	p, store := newTestProxy(t, []string{"example.com"})
	sess := addSession(t, store, "https://cdn.example.com/m.m3u8", true)

	w := httptest.NewRecorder()
	target := "https://edge7.example.com/seg/0001.ts"
	r := httptest.NewRequest("GET", "/stream/"+sess.ID+"/segment?u="+url.QueryEscape(target), nil)
	p.ServeSegment(w, r, sess.ID)

	if w.Code != http.StatusFound {
		t.Errorf("Expected 302 for subdomain of allowed host, got %d", w.Code)
	}
}

func TestServeSegmentRefusals(t *testing.T) {
	p, store := newTestProxy(t, []string{"cdn.example.com"})
	sess := addSession(t, store, "https://cdn.example.com/m.m3u8", true)

	cases := []struct {
		name   string
		target string
	}{
		{"http scheme", "http://cdn.example.com/seg/0001.ts"},
		{"unlisted host", "https://evil.example.org/seg/0001.ts"},
		{"suffix trick", "https://notcdn.example.com.evil.org/s.ts"},
		{"relative", "seg/0001.ts"},
		{"empty", ""},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/stream/"+sess.ID+"/segment?u="+url.QueryEscape(tc.target), nil)
		p.ServeSegment(w, r, sess.ID)

		if w.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", tc.name, w.Code)
		}
		if loc := w.Header().Get("Location"); loc != "" {
			t.Errorf("%s: refusal must not carry a Location header, got %q", tc.name, loc)
		}
	}
}

func TestServeManifestUnknownSession(t *testing.T) {
	p, _ := newTestProxy(t, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/stream/nope/manifest", nil)
	p.ServeManifest(w, r, "nope")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", w.Code)
	}
}

func TestServeManifestKnownHLSRedirects(t *testing.T) {
	var fetches atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
	}))
	defer upstream.Close()

	p, store := newTestProxy(t, []string{"media.example.com"})
	sess := addSession(t, store, upstream.URL+"/m.m3u8", true)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/stream/"+sess.ID+"/manifest", nil)
	p.ServeManifest(w, r, sess.ID)

	if w.Code != http.StatusFound {
		t.Fatalf("Expected 302 for a known HLS manifest, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != sess.URL {
		t.Errorf("Expected redirect to %q, got %q", sess.URL, loc)
	}
	// A known manifest URL must not cost an upstream round trip.
	if fetches.Load() != 0 {
		t.Errorf("Expected 0 upstream fetches, got %d", fetches.Load())
	}
}

func TestServeManifestRewritesProbedManifest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:6.0,\nhttps://media.example.com/seg/0001.ts\n")
	}))
	defer upstream.Close()

	p, store := newTestProxy(t, []string{"media.example.com"})
	sess := addSession(t, store, upstream.URL+"/playlist", false)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/stream/"+sess.ID+"/manifest", nil)
	p.ServeManifest(w, r, sess.ID)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Errorf("Expected manifest content type, got %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "max-age=5" {
		t.Errorf("Expected short cache, got %q", cc)
	}

	body := w.Body.String()
	if !strings.Contains(body, "/stream/"+sess.ID+"/segment?u=") {
		t.Errorf("Segment line not rewritten:\n%s", body)
	}
	if strings.Contains(body, "https://media.example.com/seg/0001.ts\n") {
		t.Errorf("Raw upstream URL leaked into manifest:\n%s", body)
	}
}

func TestServeManifestDirectFileRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "1024")
	}))
	defer upstream.Close()

	p, store := newTestProxy(t, nil)
	sess := addSession(t, store, upstream.URL+"/movie.mp4", false)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/stream/"+sess.ID+"/manifest", nil)
	p.ServeManifest(w, r, sess.ID)

	if w.Code != http.StatusFound {
		t.Fatalf("Expected 302 for direct file, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); !strings.HasSuffix(loc, "/movie.mp4") {
		t.Errorf("Expected redirect to the file, got %q", loc)
	}
}

type countingMetrics struct {
	manifests atomic.Int64
	redirects atomic.Int64
	rejects   atomic.Int64
}

func (c *countingMetrics) IncManifestsServed()  { c.manifests.Add(1) }
func (c *countingMetrics) IncSegmentRedirects() { c.redirects.Add(1) }
func (c *countingMetrics) IncSegmentRejects()   { c.rejects.Add(1) }

func TestManifestCounterSkipsFailures(t *testing.T) {
	logger.Init("ERROR")
	store := session.NewStore(time.Hour, 16)
	counts := &countingMetrics{}
	p := New(store, config.ProxyConfig{ManifestCacheSeconds: 5}, 2*time.Second, counts)

	// Unknown session answers 404 and must not count as served.
	w := httptest.NewRecorder()
	p.ServeManifest(w, httptest.NewRequest("GET", "/stream/nope/manifest", nil), "nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
	if counts.manifests.Load() != 0 {
		t.Errorf("404 must not increment the manifest counter, got %d", counts.manifests.Load())
	}

	// An unreachable upstream answers 502 and must not count either.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()
	sess := addSession(t, store, dead.URL+"/movie.mp4", false)

	w = httptest.NewRecorder()
	p.ServeManifest(w, httptest.NewRequest("GET", "/stream/"+sess.ID+"/manifest", nil), sess.ID)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", w.Code)
	}
	if counts.manifests.Load() != 0 {
		t.Errorf("502 must not increment the manifest counter, got %d", counts.manifests.Load())
	}
}

func TestManifestCounterCountsServed(t *testing.T) {
	logger.Init("ERROR")
	store := session.NewStore(time.Hour, 16)
	counts := &countingMetrics{}
	p := New(store, config.ProxyConfig{ManifestCacheSeconds: 5}, 2*time.Second, counts)

	sess := addSession(t, store, "https://media.example.com/m.m3u8", true)

	w := httptest.NewRecorder()
	p.ServeManifest(w, httptest.NewRequest("GET", "/stream/"+sess.ID+"/manifest", nil), sess.ID)
	if w.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d", w.Code)
	}
	if counts.manifests.Load() != 1 {
		t.Errorf("Expected 1 served manifest, got %d", counts.manifests.Load())
	}
}

func TestServeManifestFollowsUpstreamRedirects(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
	}))
	defer final.Close()

	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/movie.mp4", http.StatusFound)
	}))
	defer hop.Close()

	p, store := newTestProxy(t, nil)
	sess := addSession(t, store, hop.URL+"/start", false)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/stream/"+sess.ID+"/manifest", nil)
	p.ServeManifest(w, r, sess.ID)

	if w.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d", w.Code)
	}
	// The client must get the post-redirect URL, not the expiring hop
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, final.URL) {
		t.Errorf("Expected redirect to final URL %s, got %q", final.URL, loc)
	}
}
