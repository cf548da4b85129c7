// Package proxy fronts resolved upstream streams: it serves rewritten HLS
// manifests under stable session URLs and redirects segment requests to
// their upstream targets, with a host allowlist standing between the client
// and arbitrary redirects.
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"streamgate/pkg/config"
	"streamgate/pkg/logger"
	"streamgate/pkg/session"
)

// manifest content types upstreams actually send for HLS playlists.
var manifestContentTypes = map[string]bool{
	"application/vnd.apple.mpegurl": true,
	"application/x-mpegurl":         true,
	"audio/mpegurl":                 true,
}

// Metrics counts proxy outcomes. Nil disables counting.
type Metrics interface {
	IncManifestsServed()
	IncSegmentRedirects()
	IncSegmentRejects()
}

// Proxy serves the per-session stream endpoints.
type Proxy struct {
	sessions     *session.Store
	allowedHosts []string
	cacheSeconds int
	client       *http.Client
	metrics      Metrics
}

// New creates a Proxy. probeTimeout bounds the upstream HEAD/GET calls made
// while classifying and fetching manifests.
func New(sessions *session.Store, cfg config.ProxyConfig, probeTimeout time.Duration, m Metrics) *Proxy {
	return &Proxy{
		sessions:     sessions,
		allowedHosts: cfg.AllowedStreamHosts,
		cacheSeconds: cfg.ManifestCacheSeconds,
		client:       &http.Client{Timeout: probeTimeout},
		metrics:      m,
	}
}

// ServeManifest handles GET /stream/{sessionId}/manifest.
//
// Sessions already known to be HLS carry a ready manifest URL and get an
// immediate redirect with no upstream round trip. Everything else is probed
// first: manifests discovered that way are fetched and rewritten so every
// segment request comes back through this proxy, direct files get a redirect
// to the post-redirect URL so the player never replays an expiring
// intermediate link.
func (p *Proxy) ServeManifest(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess := p.sessions.Get(sessionID)
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if sess.HLS {
		p.countManifest()
		http.Redirect(w, r, sess.URL, http.StatusFound)
		return
	}

	finalURL, isManifest, err := p.classify(r, sess.URL)
	if err != nil {
		logger.Warn("Upstream probe failed", "session", sess.ID, "err", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	if isManifest {
		p.serveRewrittenManifest(w, r, sess, finalURL)
		return
	}

	p.countManifest()
	http.Redirect(w, r, finalURL, http.StatusFound)
}

// ServeSegment handles GET /stream/{sessionId}/segment?u=...
//
// The target must be an absolute https URL whose host is on the allowlist;
// anything else is refused. This endpoint redirects, it never proxies bytes.
func (p *Proxy) ServeSegment(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess := p.sessions.Get(sessionID)
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	raw := r.URL.Query().Get("u")
	target, err := url.Parse(raw)
	if err != nil || !target.IsAbs() {
		p.countReject()
		http.Error(w, "invalid segment target", http.StatusForbidden)
		return
	}

	if target.Scheme != "https" || !p.hostAllowed(target.Hostname()) {
		logger.Warn("Segment target refused", "session", sess.ID, "host", target.Hostname(), "scheme", target.Scheme)
		p.countReject()
		http.Error(w, "segment target not allowed", http.StatusForbidden)
		return
	}

	if p.metrics != nil {
		p.metrics.IncSegmentRedirects()
	}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (p *Proxy) countReject() {
	if p.metrics != nil {
		p.metrics.IncSegmentRejects()
	}
}

func (p *Proxy) countManifest() {
	if p.metrics != nil {
		p.metrics.IncManifestsServed()
	}
}

// hostAllowed matches the target host against the allowlist, exact or as a
// subdomain of an allowed entry.
func (p *Proxy) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range p.allowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// classify probes the upstream URL and reports its post-redirect location
// and whether it is an HLS playlist. Classification goes by Content-Type
// and URL extension; Content-Length alone says nothing.
func (p *Proxy) classify(r *http.Request, rawURL string) (string, bool, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodHead, rawURL, nil)
	if err != nil {
		return "", false, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()
	if resp.StatusCode >= 400 {
		return "", false, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if manifestContentTypes[ct] {
		return finalURL, true, nil
	}
	if strings.HasSuffix(strings.ToLower(resp.Request.URL.Path), ".m3u8") {
		return finalURL, true, nil
	}
	return finalURL, false, nil
}

// serveRewrittenManifest fetches the upstream playlist and serves it with
// every media line pointed back at this proxy's segment endpoint.
func (p *Proxy) serveRewrittenManifest(w http.ResponseWriter, r *http.Request, sess *session.Session, manifestURL string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, manifestURL, nil)
	if err != nil {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		logger.Warn("Manifest fetch failed", "session", sess.ID, "err", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Warn("Manifest fetch failed", "session", sess.ID, "status", resp.StatusCode)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	rewritten := RewriteManifest(string(body), resp.Request.URL, sess.ID)

	p.countManifest()
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	// Live playlists change between polls; cache just long enough to absorb
	// player retries.
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", p.cacheSeconds))
	fmt.Fprint(w, rewritten)
}
