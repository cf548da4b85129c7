// Package stream defines the canonical candidate and session shapes shared
// across the app. Source adapters normalize upstream payloads into these
// types at their boundary; nothing downstream sees raw upstream schemas.
package stream

import (
	"fmt"
	"time"
)

// Quality is a normalized resolution tag.
type Quality string

const (
	Quality480p    Quality = "480p"
	Quality720p    Quality = "720p"
	Quality1080p   Quality = "1080p"
	Quality4K      Quality = "4K"
	QualityUnknown Quality = "unknown"
)

// Format is a normalized container format.
type Format string

const (
	FormatMP4     Format = "mp4"
	FormatMKV     Format = "mkv"
	FormatHLS     Format = "hls"
	FormatUnknown Format = "unknown"
)

// CacheState reports whether a candidate is instantly playable from the
// caching service.
type CacheState string

const (
	CacheCached   CacheState = "cached"
	CacheUncached CacheState = "uncached"
	CacheUnknown  CacheState = "unknown"
)

// ContentType is the kind of watchable content.
type ContentType string

const (
	TypeMovie  ContentType = "movie"
	TypeSeries ContentType = "series"
	TypeAnime  ContentType = "anime"
)

// ContentKey identifies a unique watchable unit. Season/Episode are zero for
// non-episodic content.
type ContentKey struct {
	ContentID string
	Type      ContentType
	Season    int
	Episode   int
}

// Episodic returns true when the key addresses a season/episode.
func (k ContentKey) Episodic() bool {
	return k.Type != TypeMovie && (k.Season > 0 || k.Episode > 0)
}

// String renders a stable cache key, e.g. "tt1234567/series/1/3".
func (k ContentKey) String() string {
	if k.Episodic() {
		return fmt.Sprintf("%s/%s/%d/%d", k.ContentID, k.Type, k.Season, k.Episode)
	}
	return fmt.Sprintf("%s/%s", k.ContentID, k.Type)
}

// Candidate is one potential media location from a source adapter.
// Exactly one of URL or InfoHash is usually set; a candidate with neither
// has no locator and is dropped by the scorer.
type Candidate struct {
	Source      string     `json:"source"`
	Title       string     `json:"title"`
	URL         string     `json:"url,omitempty"`
	InfoHash    string     `json:"infoHash,omitempty"`
	Quality     Quality    `json:"quality"`
	Format      Format     `json:"format"`
	Cache       CacheState `json:"cache"`
	Size        int64      `json:"size,omitempty"`
	Seeders     int        `json:"seeders,omitempty"`
	AudioTracks int        `json:"audioTracks,omitempty"`
}

// HasLocator returns true when the candidate can actually be materialized.
func (c *Candidate) HasLocator() bool {
	return c.URL != "" || c.InfoHash != ""
}

// ProviderResult is the outcome of one adapter query, kept for scoring and
// diagnostics only.
type ProviderResult struct {
	Source     string
	Candidates []Candidate
	Latency    time.Duration
	OK         bool
	Err        error
}
