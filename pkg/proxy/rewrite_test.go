package proxy

import (
	"net/url"
	"strings"
	"testing"
)

const sampleManifest = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
https://media.example.com/seg/0001.ts
#EXTINF:6.0,
https://media.example.com/seg/0002.ts
#EXTINF:6.0,
0003.ts
#EXT-X-ENDLIST`

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Failed to parse %q: %v", raw, err)
	}
	return u
}

func TestRewriteManifest(t *testing.T) {
	base := mustParse(t, "https://media.example.com/playlists/main.m3u8")
	out := RewriteManifest(sampleManifest, base, "abc123")

	lines := strings.Split(out, "\n")
	orig := strings.Split(sampleManifest, "\n")

	if len(lines) != len(orig) {
		t.Fatalf("Line count changed: %d -> %d", len(orig), len(lines))
	}

	// Tag lines pass through untouched
	for i, line := range orig {
		if strings.HasPrefix(line, "#") && lines[i] != line {
			t.Errorf("Tag line %d changed: %q -> %q", i, line, lines[i])
		}
	}

	// Absolute media lines point at the segment endpoint with the original
	// URL escaped into u
	want := "/stream/abc123/segment?u=" + url.QueryEscape("https://media.example.com/seg/0001.ts")
	if lines[4] != want {
		t.Errorf("Expected %q, got %q", want, lines[4])
	}

	// Relative media lines resolve against the manifest URL first
	wantRel := "/stream/abc123/segment?u=" + url.QueryEscape("https://media.example.com/playlists/0003.ts")
	if lines[8] != wantRel {
		t.Errorf("Expected %q, got %q", wantRel, lines[8])
	}
}

func TestRewriteManifestPreservesOrder(t *testing.T) {
	base := mustParse(t, "https://media.example.com/main.m3u8")
	out := RewriteManifest(sampleManifest, base, "s1")

	// Every rewritten line must decode back to its original target, in order
	var targets []string
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "/stream/s1/segment?u=") {
			continue
		}
		raw, err := url.QueryUnescape(strings.TrimPrefix(line, "/stream/s1/segment?u="))
		if err != nil {
			t.Fatalf("Unescape failed: %v", err)
		}
		targets = append(targets, raw)
	}

	want := []string{
		"https://media.example.com/seg/0001.ts",
		"https://media.example.com/seg/0002.ts",
		"https://media.example.com/0003.ts",
	}
	if len(targets) != len(want) {
		t.Fatalf("Expected %d media lines, got %d", len(want), len(targets))
	}
	for i := range want {
		if targets[i] != want[i] {
			t.Errorf("Media line %d: expected %q, got %q", i, want[i], targets[i])
		}
	}
}

func TestRewriteManifestVariantPlaylists(t *testing.T) {
	master := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080
1080p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720
720p/index.m3u8`

	base := mustParse(t, "https://media.example.com/show/master.m3u8")
	out := RewriteManifest(master, base, "s2")

	want := "/stream/s2/segment?u=" + url.QueryEscape("https://media.example.com/show/1080p/index.m3u8")
	if !strings.Contains(out, want) {
		t.Errorf("Variant playlist not rewritten, output:\n%s", out)
	}
}

func TestRewriteManifestLeavesOpaqueLines(t *testing.T) {
	manifest := "#EXTM3U\nsome-opaque-token\n"
	out := RewriteManifest(manifest, mustParse(t, "https://m.example.com/x.m3u8"), "s3")
	if !strings.Contains(out, "some-opaque-token") {
		t.Errorf("Opaque non-media line should pass through, got:\n%s", out)
	}
	if strings.Contains(out, "segment?u=") {
		t.Errorf("Opaque line must not be rewritten, got:\n%s", out)
	}
}
