// Package torznab implements the torrent-index source adapter. It speaks the
// Torznab XML API (Jackett/Prowlarr class indexers) and returns
// hash-addressable candidates with no cache guarantee.
package torznab

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"streamgate/pkg/config"
	"streamgate/pkg/logger"
	"streamgate/pkg/provider"
	"streamgate/pkg/stream"
)

// Client queries a single Torznab indexer.
type Client struct {
	name    string
	baseURL string
	apiPath string
	apiKey  string
	client  *http.Client
}

// Ensure Client implements provider.Provider at compile time.
var _ provider.Provider = (*Client)(nil)

var magnetHashRe = regexp.MustCompile(`(?i)xt=urn:btih:([0-9a-f]{32,40})`)

// NewClient creates a Torznab client. TLS verification is skipped because
// self-signed certs are common in local indexer setups.
func NewClient(cfg config.TorznabConfig, timeout time.Duration) *Client {
	apiPath := cfg.APIPath
	if apiPath == "" {
		apiPath = "/api"
	}
	if !strings.HasPrefix(apiPath, "/") {
		apiPath = "/" + apiPath
	}

	return &Client{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiPath: apiPath,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name returns the configured indexer name.
func (c *Client) Name() string {
	if c.name != "" {
		return c.name
	}
	return "Torznab"
}

// Ping checks if the indexer is reachable.
func (c *Client) Ping() error {
	apiURL := fmt.Sprintf("%s%s?t=caps&apikey=%s", c.baseURL, c.apiPath, c.apiKey)
	resp, err := c.client.Get(apiURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s indexer returned status %d", c.Name(), resp.StatusCode)
	}
	return nil
}

// rss is the Torznab search response shape. Only the fields we normalize
// from are mapped; everything else stays behind this adapter.
type rss struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []item `xml:"item"`
	} `xml:"channel"`
}

type item struct {
	Title     string `xml:"title"`
	Link      string `xml:"link"`
	Size      int64  `xml:"size"`
	Enclosure struct {
		URL    string `xml:"url,attr"`
		Length int64  `xml:"length,attr"`
	} `xml:"enclosure"`
	Attrs []attr `xml:"attr"`
}

type attr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (i *item) attrValue(name string) string {
	for _, a := range i.Attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

// infoHash extracts the content hash from the infohash attribute or, failing
// that, from a magnet link.
func (i *item) infoHash() string {
	if h := i.attrValue("infohash"); h != "" {
		return strings.ToLower(h)
	}
	for _, link := range []string{i.attrValue("magneturl"), i.Link, i.Enclosure.URL} {
		if m := magnetHashRe.FindStringSubmatch(link); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}

// FetchCandidates queries the indexer and normalizes every item into the
// canonical candidate shape. Failures are recorded on the result, never
// returned.
func (c *Client) FetchCandidates(ctx context.Context, key stream.ContentKey) stream.ProviderResult {
	start := time.Now()
	result := stream.ProviderResult{Source: c.Name()}

	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("limit", "100")

	imdbID := strings.TrimPrefix(key.ContentID, "tt")
	if key.Type == stream.TypeMovie {
		params.Set("t", "movie")
		params.Set("imdbid", imdbID)
	} else {
		params.Set("t", "tvsearch")
		params.Set("imdbid", imdbID)
		if key.Season > 0 {
			params.Set("season", strconv.Itoa(key.Season))
		}
		if key.Episode > 0 {
			params.Set("ep", strconv.Itoa(key.Episode))
		}
	}

	apiURL := fmt.Sprintf("%s%s?%s", c.baseURL, c.apiPath, params.Encode())
	logger.Debug("Torznab search request", "indexer", c.Name(), "key", key.String())

	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		result.Err = fmt.Errorf("failed to create request: %w", err)
		result.Latency = time.Since(start)
		return result
	}

	resp, err := c.client.Do(req)
	if err != nil {
		result.Err = fmt.Errorf("failed to query %s: %w", c.Name(), err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		result.Err = fmt.Errorf("%s returned status %d", c.Name(), resp.StatusCode)
		result.Latency = time.Since(start)
		return result
	}

	// Some indexers serve non-UTF8 XML; decode with charset support.
	var feed rss
	decoder := xml.NewDecoder(resp.Body)
	decoder.CharsetReader = charset.NewReaderLabel
	if err := decoder.Decode(&feed); err != nil {
		result.Err = fmt.Errorf("failed to parse %s response: %w", c.Name(), err)
		result.Latency = time.Since(start)
		return result
	}

	for i := range feed.Channel.Items {
		if cand, ok := c.normalizeItem(&feed.Channel.Items[i]); ok {
			result.Candidates = append(result.Candidates, cand)
		}
	}

	result.OK = true
	result.Latency = time.Since(start)
	logger.Debug("Torznab search done", "indexer", c.Name(), "count", len(result.Candidates), "latency", result.Latency)
	return result
}

// normalizeItem maps one feed item to a candidate. Items without an
// extractable info hash are dropped here; the indexer offers no ready URL.
func (c *Client) normalizeItem(it *item) (stream.Candidate, bool) {
	hash := it.infoHash()
	if hash == "" {
		return stream.Candidate{}, false
	}

	size := it.Size
	if size <= 0 {
		if it.Enclosure.Length > 0 {
			size = it.Enclosure.Length
		} else if s := it.attrValue("size"); s != "" {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				size = n
			}
		}
	}

	seeders := 0
	if s := it.attrValue("seeders"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			seeders = n
		}
	}

	return stream.Candidate{
		Source:   c.Name(),
		Title:    it.Title,
		InfoHash: hash,
		Quality:  stream.QualityUnknown,
		Format:   stream.FormatUnknown,
		Cache:    stream.CacheUnknown,
		Size:     size,
		Seeders:  seeders,
	}, true
}
