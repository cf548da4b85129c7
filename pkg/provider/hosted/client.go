// Package hosted implements the direct-hosted source adapter for narrow
// catalogs whose upstream already serves ready-to-play URLs.
package hosted

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"streamgate/pkg/config"
	"streamgate/pkg/provider"
	"streamgate/pkg/stream"
)

// Client queries a direct-host catalog.
type Client struct {
	name    string
	baseURL string
	client  *http.Client
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates a direct-host client.
func NewClient(cfg config.HostedConfig, timeout time.Duration) *Client {
	name := cfg.Name
	if name == "" {
		name = "hosted"
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return c.name }

// Ping checks if the catalog is reachable.
func (c *Client) Ping() error {
	resp, err := c.client.Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", c.name, resp.StatusCode)
	}
	return nil
}

// catalogEntry is one upstream stream record.
type catalogEntry struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Quality     string `json:"quality"`
	Format      string `json:"format"`
	Size        int64  `json:"size"`
	AudioTracks int    `json:"audio_tracks"`
}

// FetchCandidates looks the content up in the catalog. Upstream URLs are
// instantly playable, so candidates come back cached.
func (c *Client) FetchCandidates(ctx context.Context, key stream.ContentKey) stream.ProviderResult {
	start := time.Now()
	result := stream.ProviderResult{Source: c.name}

	params := url.Values{}
	if key.Episodic() {
		params.Set("season", strconv.Itoa(key.Season))
		params.Set("episode", strconv.Itoa(key.Episode))
	}
	endpoint := fmt.Sprintf("%s/catalog/%s/%s?%s", c.baseURL, key.Type, url.PathEscape(key.ContentID), params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		result.Err = fmt.Errorf("failed to create request: %w", err)
		result.Latency = time.Since(start)
		return result
	}

	resp, err := c.client.Do(req)
	if err != nil {
		result.Err = fmt.Errorf("failed to query %s: %w", c.name, err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Not in this catalog; an empty result is the normal case here.
		result.OK = true
		result.Latency = time.Since(start)
		return result
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		result.Err = fmt.Errorf("%s returned status %d", c.name, resp.StatusCode)
		result.Latency = time.Since(start)
		return result
	}

	var payload struct {
		Streams []catalogEntry `json:"streams"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		result.Err = fmt.Errorf("failed to parse %s response: %w", c.name, err)
		result.Latency = time.Since(start)
		return result
	}

	for _, entry := range payload.Streams {
		if entry.URL == "" {
			continue
		}
		result.Candidates = append(result.Candidates, stream.Candidate{
			Source:      c.name,
			Title:       entry.Title,
			URL:         entry.URL,
			Quality:     normalizeQuality(entry.Quality),
			Format:      normalizeFormat(entry.Format),
			Cache:       stream.CacheCached,
			Size:        entry.Size,
			AudioTracks: entry.AudioTracks,
		})
	}

	result.OK = true
	result.Latency = time.Since(start)
	return result
}

func normalizeQuality(s string) stream.Quality {
	switch strings.ToLower(s) {
	case "480p":
		return stream.Quality480p
	case "720p":
		return stream.Quality720p
	case "1080p":
		return stream.Quality1080p
	case "4k", "2160p", "uhd":
		return stream.Quality4K
	}
	return stream.QualityUnknown
}

func normalizeFormat(s string) stream.Format {
	switch strings.ToLower(s) {
	case "mp4":
		return stream.FormatMP4
	case "mkv":
		return stream.FormatMKV
	case "hls", "m3u8":
		return stream.FormatHLS
	}
	return stream.FormatUnknown
}
