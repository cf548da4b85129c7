// Package tmdb looks up content metadata from TheMovieDB, used to expand
// preload requests into episode windows and to label sessions with titles.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"streamgate/pkg/logger"
)

const apiBase = "https://api.themoviedb.org/3"

// Client for TheMovieDB API
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a new TMDB client
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: apiBase,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// FindResponse represents the response from /find/{id}
type FindResponse struct {
	MovieResults []Result `json:"movie_results"`
	TVResults    []Result `json:"tv_results"`
}

// Result represents a search result item
type Result struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`           // TV
	Title         string `json:"title"`          // Movie
	OriginalName  string `json:"original_name"`  // TV
	OriginalTitle string `json:"original_title"` // Movie
	MediaType     string `json:"media_type"`
}

// SeasonResponse represents the response from /tv/{id}/season/{n}
type SeasonResponse struct {
	ID       int       `json:"id"`
	Episodes []Episode `json:"episodes"`
}

// Episode is one entry of a season listing
type Episode struct {
	EpisodeNumber int    `json:"episode_number"`
	Name          string `json:"name"`
	AirDate       string `json:"air_date"`
}

func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	reqURL := endpoint
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", endpoint, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("accept", "application/json")

	return c.client.Do(req)
}

// Find searches for objects by external ID (IMDb ID)
func (c *Client) Find(ctx context.Context, imdbID string) (*FindResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("TMDB API key not configured")
	}

	endpoint := fmt.Sprintf("%s/find/%s", c.baseURL, imdbID)
	params := url.Values{}
	params.Set("external_source", "imdb_id")

	resp, err := c.doRequest(ctx, endpoint, params)
	if err != nil {
		return nil, fmt.Errorf("TMDB find request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TMDB returned status: %d", resp.StatusCode)
	}

	var result FindResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode TMDB response: %w", err)
	}

	return &result, nil
}

// SeasonEpisodes returns the episode numbers of a season, resolved from an
// IMDb series ID. An empty slice means the season exists but has no aired
// episodes yet.
func (c *Client) SeasonEpisodes(ctx context.Context, imdbID string, season int) ([]int, error) {
	findResp, err := c.Find(ctx, imdbID)
	if err != nil {
		return nil, err
	}
	if len(findResp.TVResults) == 0 {
		return nil, fmt.Errorf("no TV show found for IMDb ID: %s", imdbID)
	}

	tmdbID := findResp.TVResults[0].ID
	logger.Debug("Resolved TMDB ID from IMDb", "imdb", imdbID, "tmdb", tmdbID)

	endpoint := fmt.Sprintf("%s/tv/%d/season/%d", c.baseURL, tmdbID, season)
	resp, err := c.doRequest(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("TMDB season request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TMDB returned status: %d", resp.StatusCode)
	}

	var result SeasonResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode TMDB response: %w", err)
	}

	episodes := make([]int, 0, len(result.Episodes))
	for _, ep := range result.Episodes {
		episodes = append(episodes, ep.EpisodeNumber)
	}
	return episodes, nil
}

// DisplayTitle returns a human-readable title for an IMDb ID, falling back
// to the ID itself when nothing is found.
func (c *Client) DisplayTitle(ctx context.Context, imdbID string) string {
	findResp, err := c.Find(ctx, imdbID)
	if err != nil {
		logger.Debug("TMDB title lookup failed", "imdb", imdbID, "err", err)
		return imdbID
	}
	if len(findResp.MovieResults) > 0 && findResp.MovieResults[0].Title != "" {
		return findResp.MovieResults[0].Title
	}
	if len(findResp.TVResults) > 0 && findResp.TVResults[0].Name != "" {
		return findResp.TVResults[0].Name
	}
	return imdbID
}
