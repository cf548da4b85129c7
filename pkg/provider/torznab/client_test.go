package torznab

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"streamgate/pkg/config"
	"streamgate/pkg/logger"
	"streamgate/pkg/stream"
)

func TestFetchCandidatesMovie(t *testing.T) {
	logger.Init("DEBUG")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apikey") != "test-api-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Query().Get("t") != "movie" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("imdbid") != "0111161" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
<channel>
<item>
	<title>Movie.1994.1080p.BluRay.x264</title>
	<link>magnet:?xt=urn:btih:aabbccddeeff00112233445566778899aabbccdd&amp;dn=movie</link>
	<size>15032385536</size>
	<torznab:attr name="seeders" value="120" />
</item>
<item>
	<title>Movie.1994.720p.WEBRip</title>
	<torznab:attr name="infohash" value="FFEEDDCCBBAA00112233445566778899AABBCCDD" />
	<torznab:attr name="size" value="4294967296" />
	<torznab:attr name="seeders" value="35" />
</item>
<item>
	<title>No hash at all</title>
	<link>https://indexer.example.com/details/42</link>
</item>
</channel>
</rss>`)
	}))
	defer server.Close()

	client := NewClient(config.TorznabConfig{
		Name:   "MockIndexer",
		URL:    server.URL,
		APIKey: "test-api-key",
	}, 5*time.Second)

	result := client.FetchCandidates(context.Background(),
		stream.ContentKey{ContentID: "tt0111161", Type: stream.TypeMovie})
	if result.Err != nil {
		t.Fatalf("FetchCandidates failed: %v", result.Err)
	}
	if !result.OK {
		t.Fatal("Expected OK result")
	}

	// The hashless item must be dropped
	if len(result.Candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(result.Candidates))
	}

	first := result.Candidates[0]
	if first.InfoHash != "aabbccddeeff00112233445566778899aabbccdd" {
		t.Errorf("Magnet hash not extracted, got %q", first.InfoHash)
	}
	if first.Size != 15032385536 {
		t.Errorf("Expected size from element, got %d", first.Size)
	}
	if first.Seeders != 120 {
		t.Errorf("Expected 120 seeders, got %d", first.Seeders)
	}
	if first.Cache != stream.CacheUnknown {
		t.Errorf("Indexer candidates must report unknown cache state, got %s", first.Cache)
	}

	second := result.Candidates[1]
	if second.InfoHash != "ffeeddccbbaa00112233445566778899aabbccdd" {
		t.Errorf("infohash attr not lowercased, got %q", second.InfoHash)
	}
	if second.Size != 4294967296 {
		t.Errorf("Expected size from attr fallback, got %d", second.Size)
	}
}

func TestFetchCandidatesSeriesParams(t *testing.T) {
	logger.Init("DEBUG")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("t") != "tvsearch" || q.Get("season") != "2" || q.Get("ep") != "5" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0"?><rss><channel></channel></rss>`)
	}))
	defer server.Close()

	client := NewClient(config.TorznabConfig{URL: server.URL, APIKey: "k"}, 5*time.Second)
	result := client.FetchCandidates(context.Background(),
		stream.ContentKey{ContentID: "tt0903747", Type: stream.TypeSeries, Season: 2, Episode: 5})

	if result.Err != nil {
		t.Fatalf("Expected tvsearch params to be sent, got error: %v", result.Err)
	}
}

func TestFetchCandidatesUpstreamError(t *testing.T) {
	logger.Init("DEBUG")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(config.TorznabConfig{URL: server.URL, APIKey: "k"}, 5*time.Second)
	result := client.FetchCandidates(context.Background(),
		stream.ContentKey{ContentID: "tt0111161", Type: stream.TypeMovie})

	if result.Err == nil {
		t.Fatal("Expected error recorded on result")
	}
	if result.OK {
		t.Error("Result must not be OK on upstream failure")
	}
}

func TestFetchCandidatesTimeout(t *testing.T) {
	logger.Init("DEBUG")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(config.TorznabConfig{URL: server.URL, APIKey: "k"}, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := client.FetchCandidates(ctx,
		stream.ContentKey{ContentID: "tt0111161", Type: stream.TypeMovie})
	if result.Err == nil {
		t.Fatal("Expected timeout error recorded on result")
	}
}

func TestPing(t *testing.T) {
	logger.Init("DEBUG")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("t") != "caps" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `<?xml version="1.0"?><caps></caps>`)
	}))
	defer server.Close()

	client := NewClient(config.TorznabConfig{URL: server.URL, APIKey: "k"}, 5*time.Second)
	if err := client.Ping(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
