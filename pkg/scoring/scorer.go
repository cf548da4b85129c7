// Package scoring ranks stream candidates with a deterministic, configurable
// policy. Rank is a pure function: same input order in, same output order out.
package scoring

import (
	"regexp"
	"sort"
	"strings"

	"github.com/MunifTanjim/go-ptt"

	"streamgate/pkg/config"
	"streamgate/pkg/stream"
)

var resolutionRe = regexp.MustCompile(`(?i)\b(\d{3,4})p\b`)

// ParseQuality extracts a normalized quality tag from free-text title
// metadata. 2160p and UHD tokens normalize to 4K.
func ParseQuality(title string) stream.Quality {
	lower := strings.ToLower(title)
	if m := resolutionRe.FindStringSubmatch(lower); m != nil {
		switch m[1] {
		case "2160":
			return stream.Quality4K
		case "1080":
			return stream.Quality1080p
		case "720":
			return stream.Quality720p
		case "480":
			return stream.Quality480p
		}
	}
	if strings.Contains(lower, "4k") || strings.Contains(lower, "uhd") {
		return stream.Quality4K
	}
	return stream.QualityUnknown
}

// ParseFormat extracts a container format from a file name, URL, or title.
func ParseFormat(s string) stream.Format {
	lower := strings.ToLower(s)
	// Strip query strings so extensions at the end of URLs still match
	if idx := strings.IndexByte(lower, '?'); idx != -1 {
		lower = lower[:idx]
	}
	switch {
	case strings.HasSuffix(lower, ".m3u8") || strings.Contains(lower, "hls"):
		return stream.FormatHLS
	case strings.HasSuffix(lower, ".mp4") || strings.Contains(lower, "mp4"):
		return stream.FormatMP4
	case strings.HasSuffix(lower, ".mkv") || strings.Contains(lower, "mkv"):
		return stream.FormatMKV
	}
	return stream.FormatUnknown
}

// titleMeta is the subset of parsed release metadata the scorer cares about.
type titleMeta struct {
	resolution string
	container  string
	visualTag  bool // HDR or Dolby Vision
}

// parseTitle runs the release-title parser (go-ptt) over free-text metadata.
func parseTitle(title string) titleMeta {
	if title == "" {
		return titleMeta{}
	}
	info := ptt.Parse(title)
	meta := titleMeta{
		resolution: info.Resolution,
		container:  info.Container,
		visualTag:  len(info.HDR) > 0,
	}
	if !meta.visualTag {
		lower := strings.ToLower(title)
		meta.visualTag = strings.Contains(lower, "hdr") ||
			strings.Contains(lower, "dolby.vision") ||
			strings.Contains(lower, "dolby vision") ||
			strings.Contains(lower, "dovi")
	}
	return meta
}

// normalize fills missing quality and format on a candidate from its title
// text. The parsed title is the first pass; the token rules above are the
// fallback.
func normalize(c stream.Candidate, meta titleMeta) stream.Candidate {
	if c.Quality == "" || c.Quality == stream.QualityUnknown {
		c.Quality = stream.QualityUnknown
		if meta.resolution != "" {
			c.Quality = ParseQuality(meta.resolution)
		}
		if c.Quality == stream.QualityUnknown {
			c.Quality = ParseQuality(c.Title)
		}
	}

	if c.Format == "" || c.Format == stream.FormatUnknown {
		c.Format = stream.FormatUnknown
		if meta.container != "" {
			c.Format = ParseFormat(meta.container)
		}
		if c.Format == stream.FormatUnknown && c.URL != "" {
			c.Format = ParseFormat(c.URL)
		}
		if c.Format == stream.FormatUnknown {
			c.Format = ParseFormat(c.Title)
		}
	}

	if c.Cache == "" {
		c.Cache = stream.CacheUnknown
	}

	return c
}

// score computes the weighted score for one normalized candidate. Cache
// state dominates, then container format, then resolution; HDR/DV tags
// subtract a compatibility penalty.
func score(c stream.Candidate, meta titleMeta, pol config.ScoringConfig, preferred stream.Quality) int {
	s := pol.CacheWeights[string(c.Cache)]
	s += pol.FormatWeights[string(c.Format)]
	s += pol.QualityWeights[string(c.Quality)]

	if meta.visualTag {
		s -= pol.VisualTagPenalty
	}

	if preferred != "" && preferred != stream.QualityUnknown && c.Quality == preferred {
		s += pol.PreferredQualityBoost
	}

	if pol.SeederWeight != 0 && c.Seeders > 0 {
		s += int(float64(c.Seeders) * pol.SeederWeight)
	}

	return s
}

// Rank filters and sorts candidates descending by score. Candidates without
// a locator are discarded. The sort is stable, so equal scores keep their
// discovery order (first adapter, first position wins). Index 0 of the
// result is the resolution target; the remainder are alternatives.
func Rank(cands []stream.Candidate, pol config.ScoringConfig, preferred stream.Quality) []stream.Candidate {
	type scored struct {
		cand  stream.Candidate
		score int
	}

	ranked := make([]scored, 0, len(cands))
	for _, c := range cands {
		if !c.HasLocator() {
			continue
		}
		meta := parseTitle(c.Title)
		n := normalize(c, meta)
		ranked = append(ranked, scored{cand: n, score: score(n, meta, pol, preferred)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]stream.Candidate, len(ranked))
	for i, r := range ranked {
		out[i] = r.cand
	}
	return out
}
