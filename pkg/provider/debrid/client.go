// Package debrid implements the caching-service source adapter and the
// materialization calls the orchestrator needs: a bulk instant-availability
// check, a direct download link endpoint, an HLS transcode job with bounded
// polling, and a best-effort add-to-library queue.
package debrid

import (
	"bytes"
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
	"streamgate/pkg/logger"
	"streamgate/pkg/provider"
	"streamgate/pkg/stream"
)

// Client talks to the caching/debrid service.
type Client struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pollDelay    time.Duration
	pollAttempts int
}

// Ensure Client implements provider.Provider at compile time.
var _ provider.Provider = (*Client)(nil)

// NewClient creates a debrid client. The API key is required; its value is
// never echoed in errors or logs.
func NewClient(cfg config.DebridConfig, timeouts config.TimeoutConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, &config.MissingError{Setting: "debrid.url"}
	}
	if cfg.APIKey == "" {
		return nil, &config.MissingError{Setting: "debrid.api_key"}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: time.Duration(timeouts.DebridSeconds) * time.Second,
		},
		pollDelay:    time.Duration(timeouts.HLSPollDelayMillis) * time.Millisecond,
		pollAttempts: timeouts.HLSPollAttempts,
	}, nil
}

// Name identifies this source in candidates and diagnostics.
func (c *Client) Name() string { return "debrid" }

// envelope is the service's standard response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// doJSON performs one API call and unmarshals the data payload into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("caching service request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read caching service response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("caching service returned status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("parse caching service response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("caching service error: %s", env.Error)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("parse caching service payload: %w", err)
		}
	}
	return nil
}

// Ping checks service reachability and credential validity.
func (c *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.doJSON(ctx, "GET", "/v1/user", nil, nil)
}

// libraryItem is one already-cached entry in the user's cloud library.
type libraryItem struct {
	Name        string `json:"name"`
	Hash        string `json:"hash"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
	AudioTracks int    `json:"audio_tracks"`
}

// FetchCandidates searches the cloud library for entries matching the
// content key. Everything found here is cached by definition; entries with a
// ready URL can be played with no further calls.
func (c *Client) FetchCandidates(ctx context.Context, key stream.ContentKey) stream.ProviderResult {
	start := time.Now()
	result := stream.ProviderResult{Source: c.Name()}

	params := url.Values{}
	params.Set("content", key.ContentID)
	if key.Episodic() {
		params.Set("season", strconv.Itoa(key.Season))
		params.Set("episode", strconv.Itoa(key.Episode))
	}

	var payload struct {
		Items []libraryItem `json:"items"`
	}
	if err := c.doJSON(ctx, "GET", "/v1/library/search?"+params.Encode(), nil, &payload); err != nil {
		result.Err = err
		result.Latency = time.Since(start)
		return result
	}

	for _, it := range payload.Items {
		if it.Hash == "" && it.URL == "" {
			continue
		}
		result.Candidates = append(result.Candidates, stream.Candidate{
			Source:      c.Name(),
			Title:       it.Name,
			URL:         it.URL,
			InfoHash:    strings.ToLower(it.Hash),
			Quality:     stream.QualityUnknown,
			Format:      stream.FormatUnknown,
			Cache:       stream.CacheCached,
			Size:        it.Size,
			AudioTracks: it.AudioTracks,
		})
	}

	result.OK = true
	result.Latency = time.Since(start)
	return result
}

// CheckInstant reports which of the given hashes are instantly available
// from the cache. Unknown hashes are simply absent from the result map.
func (c *Client) CheckInstant(ctx context.Context, hashes []string) (map[string]bool, error) {
	if len(hashes) == 0 {
		return map[string]bool{}, nil
	}

	params := url.Values{}
	params.Set("hashes", strings.Join(hashes, ","))

	cached := make(map[string]bool)
	if err := c.doJSON(ctx, "GET", "/v1/cache/check?"+params.Encode(), nil, &cached); err != nil {
		return nil, err
	}
	return cached, nil
}

// RequestLink asks for a direct download URL for a cached hash. Used for
// containers that are already web-playable.
func (c *Client) RequestLink(ctx context.Context, hash string) (string, error) {
	var payload struct {
		URL string `json:"url"`
	}
	body := map[string]string{"hash": hash}
	if err := c.doJSON(ctx, "POST", "/v1/link", body, &payload); err != nil {
		return "", err
	}
	if payload.URL == "" {
		return "", fmt.Errorf("caching service returned no link for hash")
	}
	return payload.URL, nil
}

// hlsJob is the transcode job status payload.
type hlsJob struct {
	ID     string `json:"id"`
	Status string `json:"status"` // queued | processing | ready | error
	URL    string `json:"url"`
	Detail string `json:"detail"`
}

// CreateHLS submits an HLS-stream creation job for a cached hash and polls
// with a fixed delay until the job settles or attempts run out.
func (c *Client) CreateHLS(ctx context.Context, hash string) (string, error) {
	var job hlsJob
	body := map[string]string{"hash": hash}
	if err := c.doJSON(ctx, "POST", "/v1/hls", body, &job); err != nil {
		return "", err
	}
	if job.Status == "ready" && job.URL != "" {
		return job.URL, nil
	}
	if job.ID == "" {
		return "", fmt.Errorf("caching service returned no HLS job id")
	}

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollDelay):
		}

		if err := c.doJSON(ctx, "GET", "/v1/hls/"+job.ID, nil, &job); err != nil {
			return "", err
		}
		switch job.Status {
		case "ready":
			if job.URL == "" {
				return "", fmt.Errorf("HLS job ready but no URL returned")
			}
			return job.URL, nil
		case "error":
			return "", fmt.Errorf("HLS job failed: %s", job.Detail)
		}
	}

	return "", fmt.Errorf("HLS job did not complete within %d polls", c.pollAttempts)
}

// QueueDownload submits a best-effort add-to-library request so an uncached
// hash may become available later. Failures are logged, never surfaced.
func (c *Client) QueueDownload(ctx context.Context, hash string) {
	body := map[string]string{"hash": hash}
	if err := c.doJSON(ctx, "POST", "/v1/library", body, nil); err != nil {
		logger.Debug("Queue download failed", "err", err)
	}
}
